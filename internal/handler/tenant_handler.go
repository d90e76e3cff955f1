package handler

import (
	"net/http"

	"github.com/hitoshi/keihi/internal/middleware"
)

type tenantResponse struct {
	ID           string `json:"id"`
	Subdomain    string `json:"subdomain"`
	Name         string `json:"name"`
	LogoURL      string `json:"logoUrl,omitempty"`
	PrimaryColor string `json:"primaryColor,omitempty"`
}

type currentTenantResponse struct {
	Tenant tenantResponse `json:"tenant"`
	Role   string         `json:"role"`
}

// TenantHandler はテナント関連のHTTPハンドラー。
type TenantHandler struct{}

// NewTenantHandler はTenantHandlerを生成する。
func NewTenantHandler() *TenantHandler {
	return &TenantHandler{}
}

// Current は認可済みテナントと、そのテナントでのロールを返す。
// GET /api/tenant?tenant=<subdomain>
func (h *TenantHandler) Current(w http.ResponseWriter, r *http.Request) {
	result, ok := middleware.AuthResultFromContext(r.Context())
	if !ok || result.Tenant == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	t := result.Tenant
	writeJSON(w, http.StatusOK, currentTenantResponse{
		Tenant: tenantResponse{
			ID:           t.ID,
			Subdomain:    t.Subdomain,
			Name:         t.Name,
			LogoURL:      t.LogoURL,
			PrimaryColor: t.PrimaryColor,
		},
		Role: result.Role,
	})
}
