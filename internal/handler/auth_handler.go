// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/hitoshi/keihi/internal/auth"
	"github.com/hitoshi/keihi/internal/middleware"
	"github.com/hitoshi/keihi/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code, inviteID string, meta auth.ClientMeta) (*model.Session, error)
	Logout(ctx context.Context, token string) error
	GetCurrentUser(ctx context.Context, token string) (*model.User, error)
}

// StateCodec はOAuthのstateを発行・検証する。
type StateCodec interface {
	Issue(inviteID string) (token string, nonce string, err error)
	Verify(token, cookieNonce string) (*auth.LoginState, error)
}

var (
	_ AuthServiceInterface = (*auth.Service)(nil)
	_ StateCodec           = (*auth.StateCodec)(nil)
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL string
	Cookies middleware.CookieConfig
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	state   StateCodec
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, state StateCodec, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		state:   state,
		config:  config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login[?invite=<id>]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	token, nonce, err := h.state.Issue(r.URL.Query().Get("invite"))
	if err != nil {
		slog.Error("failed to issue oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// nonceをCookieに保存し、コールバックでstateと突き合わせる
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    nonce,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(token), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var nonce string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		nonce = c.Value
	}

	// stateクッキーは検証結果に関わらず削除する
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	login, err := h.state.Verify(r.URL.Query().Get("state"), nonce)
	if err != nil {
		slog.Warn("oauth state rejected", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewCSRFError())
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnauthenticatedError())
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code, login.InviteID, clientMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrNotProvisioned) {
			middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewNotProvisionedError())
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.SetSessionCookie(w, session.Token, h.config.Cookies)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	middleware.ClearSessionCookie(w, h.config.Cookies)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	TenantID     *string `json:"tenantId"`
	IsSuperAdmin bool    `json:"isSuperAdmin"`
	IsAccountant bool    `json:"isAccountant"`
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetCurrentUser(r.Context(), middleware.SessionToken(r))
	if err != nil {
		middleware.WriteAuthError(w, r, err, h.config.Cookies)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		TenantID:     user.TenantID,
		IsSuperAdmin: user.IsSuperAdmin,
		IsAccountant: user.IsAccountant,
	})
}

// clientMeta はセッションに記録する接続元情報を取り出す。
func clientMeta(r *http.Request) auth.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return auth.ClientMeta{
		UserAgent: r.UserAgent(),
		IPAddress: ip,
	}
}
