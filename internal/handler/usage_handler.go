package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/keihi/internal/middleware"
	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/usage"
)

// ActionLimits はアクション種別ごとの上限設定を引く。usage.Limitsが実装する。
type ActionLimits interface {
	Action(action string) (usage.ActionConfig, error)
}

// UsageReporter はウィンドウごとの利用状況を返す。usage.Limiterが実装する。
type UsageReporter interface {
	Usage(ctx context.Context, tenantID string, cfg usage.ActionConfig) ([]usage.WindowUsage, error)
}

var (
	_ ActionLimits  = (*usage.Limits)(nil)
	_ UsageReporter = (*usage.Limiter)(nil)
)

type usageResponse struct {
	Action  string              `json:"action"`
	Windows []usage.WindowUsage `json:"windows"`
}

// UsageHandler は利用状況照会のHTTPハンドラー。
type UsageHandler struct {
	limits   ActionLimits
	reporter UsageReporter
}

// NewUsageHandler はUsageHandlerを生成する。
func NewUsageHandler(limits ActionLimits, reporter UsageReporter) *UsageHandler {
	return &UsageHandler{limits: limits, reporter: reporter}
}

// Get は認可済みテナントの指定アクションの利用状況を返す。記録は行わない。
// GET /api/usage/{action}?tenant=<subdomain>
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	cfg, err := h.limits.Action(action)
	if err != nil {
		if errors.Is(err, usage.ErrUnknownAction) {
			handleServiceError(w, model.NewUnknownActionError(action))
			return
		}
		handleServiceError(w, err)
		return
	}

	tenantID := middleware.TenantIDFromContext(r.Context())
	windows, err := h.reporter.Usage(r.Context(), tenantID, cfg)
	if err != nil {
		slog.Error("failed to read usage",
			slog.String("tenant_id", tenantID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, usageResponse{Action: cfg.Action, Windows: windows})
}
