package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/keihi/internal/middleware"
	"github.com/hitoshi/keihi/internal/scan"
	"github.com/hitoshi/keihi/internal/usage"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 共通
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler
	HTTPMetrics       middleware.StatusMetrics
	CORSAllowedOrigin string
	Production        bool

	// 認証ゲート
	Authenticator    middleware.Authenticator
	SessionValidator middleware.SessionValidator
	Cookies          middleware.CookieConfig
	RateLimiter      *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	StateCodec  StateCodec
	BaseURL     string

	// 利用上限
	Limits        ActionLimits
	UsageGate     *usage.Gate
	UsageReporter UsageReporter
	ScanConfig    usage.ActionConfig

	// レシート読み取り
	Scanner     scan.Scanner
	ScanMetrics ScanMetrics

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → CSRF
//	  /api/*: TenantAuth → RateLimit → (receipts/scan のみ) UsageGate
//	  /api/users/*: Session → RateLimit
//
// /health, /metrics, /auth/* は認証ゲートの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Production))
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.StateCodec, AuthHandlerConfig{
		BaseURL: deps.BaseURL,
		Cookies: deps.Cookies,
	})
	tenantHandler := NewTenantHandler()
	usageHandler := NewUsageHandler(deps.Limits, deps.UsageReporter)
	receiptHandler := NewReceiptHandler(deps.Scanner, deps.ScanMetrics)
	userHandler := NewUserHandler(deps.UserService, deps.Cookies)

	// --- 認証不要のルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/me", authHandler.Me)
		r.With(middleware.NewCSRFMiddleware(deps.Cookies)).Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.Cookies))
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.Cookies))

		// テナント単位の認可が必要なルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewTenantAuthMiddleware(deps.Authenticator, deps.Cookies))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}

			r.Get("/tenant", tenantHandler.Current)
			r.Get("/usage/{action}", usageHandler.Get)
			r.With(middleware.NewUsageGateMiddleware(deps.UsageGate, deps.ScanConfig)).
				Post("/receipts/scan", receiptHandler.Scan)
		})

		// セッションのみで扱うルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionValidator, deps.Cookies))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}

			r.Delete("/users/me", userHandler.Withdraw)
		})
	})

	return otelhttp.NewHandler(r, "keihi.http",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
