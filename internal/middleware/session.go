// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/keihi/internal/auth"
	"github.com/hitoshi/keihi/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session"

// TenantQueryParam はテナント（サブドメイン）を指定するクエリパラメータ名。
const TenantQueryParam = "tenant"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey     = contextKey("user_id")
	authResultContextKey = contextKey("auth_result")
	sessionContextKey    = contextKey("session")
)

// Authenticator は認証ゲートのインターフェース。auth.Resolverが実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, token, tenantIdentifier string) (*auth.AuthResult, error)
}

// SessionValidator はテナントを伴わないセッション検証のインターフェース。
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*model.Session, *model.User, error)
}

var (
	_ Authenticator    = (*auth.Resolver)(nil)
	_ SessionValidator = (*auth.Resolver)(nil)
)

// CookieConfig はセッションCookieの属性。SecureとDomainは本番環境でのみ設定する。
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge int
}

// SetSessionCookie はセッションCookieを設定する。
func SetSessionCookie(w http.ResponseWriter, token string, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionToken はリクエストのCookieからセッショントークンを取り出す。無ければ空文字。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewTenantAuthMiddleware はセッションCookieとtenantクエリから要求を認可するミドルウェアを返す。
// 認可結果をリクエストコンテキストに注入する。
// 拒否時は種類に応じて401/400/403、ストア障害時は500を返す。
func NewTenantAuthMiddleware(authenticator Authenticator, cookies CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := authenticator.Authenticate(r.Context(), SessionToken(r), r.URL.Query().Get(TenantQueryParam))
			if err != nil {
				WriteAuthError(w, r, err, cookies)
				return
			}

			annotateRequest(r, result.User.ID, result.TenantID)
			ctx := context.WithValue(r.Context(), authResultContextKey, result)
			ctx = context.WithValue(ctx, userIDContextKey, result.User.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewSessionMiddleware はテナントを必要としない経路向けに、セッションのみを検証するミドルウェアを返す。
// 認証済みユーザーIDとセッションをリクエストコンテキストに注入する。
func NewSessionMiddleware(validator SessionValidator, cookies CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, user, err := validator.ValidateSession(r.Context(), SessionToken(r))
			if err != nil {
				WriteAuthError(w, r, err, cookies)
				return
			}

			annotateRequest(r, user.ID, "")
			ctx := context.WithValue(r.Context(), userIDContextKey, user.ID)
			ctx = context.WithValue(ctx, sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteAuthError は認証ゲートのエラーを統一エラーフォーマットで書き込む。
// 無効・期限切れのセッションの場合はCookieも削除する。
func WriteAuthError(w http.ResponseWriter, r *http.Request, err error, cookies CookieConfig) {
	if errors.Is(err, auth.ErrInvalidSession) {
		ClearSessionCookie(w, cookies)
	}

	switch {
	case errors.Is(err, auth.ErrNoTenantContext):
		WriteErrorResponse(w, http.StatusBadRequest, model.NewTenantRequiredError())
	case errors.Is(err, auth.ErrUnknownTenant):
		WriteErrorResponse(w, http.StatusBadRequest, model.NewTenantNotFoundError(r.URL.Query().Get(TenantQueryParam)))
	default:
		kind, denied := auth.KindOf(err)
		if !denied {
			slog.Error("failed to authenticate request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			WriteInternalServerError(w)
			return
		}
		switch kind {
		case auth.KindUnauthorized:
			WriteErrorResponse(w, http.StatusForbidden, model.NewTenantAccessDeniedError())
		case auth.KindMissingContext:
			WriteErrorResponse(w, http.StatusBadRequest, model.NewTenantRequiredError())
		default:
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		}
	}
}

// AuthResultFromContext はテナント認可ミドルウェアが注入した認可結果を取得する。
func AuthResultFromContext(ctx context.Context) (*auth.AuthResult, bool) {
	result, ok := ctx.Value(authResultContextKey).(*auth.AuthResult)
	return result, ok && result != nil
}

// ContextWithAuthResult はコンテキストに認可結果を注入する。テスト用。
func ContextWithAuthResult(ctx context.Context, result *auth.AuthResult) context.Context {
	ctx = context.WithValue(ctx, authResultContextKey, result)
	if result != nil && result.User != nil {
		ctx = context.WithValue(ctx, userIDContextKey, result.User.ID)
	}
	return ctx
}

// SessionFromContext はセッションミドルウェアが注入したセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	return session, ok && session != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// TenantIDFromContext は認可済みテナントのIDを返す。未認可の場合は空文字。
func TenantIDFromContext(ctx context.Context) string {
	if result, ok := AuthResultFromContext(ctx); ok {
		return result.TenantID
	}
	return ""
}
