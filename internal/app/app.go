package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/keihi/internal/alert"
	"github.com/hitoshi/keihi/internal/auth"
	"github.com/hitoshi/keihi/internal/config"
	"github.com/hitoshi/keihi/internal/database"
	"github.com/hitoshi/keihi/internal/handler"
	"github.com/hitoshi/keihi/internal/logger"
	"github.com/hitoshi/keihi/internal/metrics"
	"github.com/hitoshi/keihi/internal/middleware"
	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/repository"
	"github.com/hitoshi/keihi/internal/scan"
	"github.com/hitoshi/keihi/internal/telemetry"
	"github.com/hitoshi/keihi/internal/usage"
	"github.com/hitoshi/keihi/internal/user"
	"github.com/hitoshi/keihi/internal/worker/cleanup"
)

// oauthStateTTL はログイン開始からコールバックまでに許容する時間。
const oauthStateTTL = 10 * time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("usage_store", cfg.UsageStore),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		direction, steps, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, direction, steps)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", slog.String("driver", cfg.DatabaseDriver))
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. 利用上限設定（DB接続より前に検証する）
	limits, err := loadLimits(cfg)
	if err != nil {
		return err
	}
	scanCfg, err := limits.Action(model.ActionReceiptScan)
	if err != nil {
		return fmt.Errorf("rate limits: %w", err)
	}

	// 2. トレース
	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "keihi",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 4. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 5. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tenantRepo := repository.NewPostgresTenantRepo(db)
	accessRepo := repository.NewPostgresTenantAccessRepo(db)
	inviteRepo := repository.NewPostgresInviteRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	ledger, closeLedger, err := openUsageLedger(ctx, cfg, db, limits)
	if err != nil {
		return err
	}
	defer closeLedger()

	// 6. アラート配送
	notifiers, closeNotifiers, err := buildNotifiers(cfg)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	dispatcher := alert.NewDispatcher(alert.Config{
		Recipients: cfg.AlertRecipients,
		QueueSize:  cfg.AlertQueueSize,
		Timeout:    cfg.AlertTimeout,
	}, alert.NewRepositoryNamer(tenantRepo), notifiers, collector)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	// 7. ドメインサービスの初期化
	resolver := auth.NewResolver(sessionRepo, userRepo, tenantRepo, accessRepo,
		auth.WithResolverMetrics(collector),
	)
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, resolver, userRepo, inviteRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	limiter := usage.NewLimiter(ledger,
		usage.WithAlertSubmitter(dispatcher),
		usage.WithLimiterMetrics(collector),
	)
	gate := usage.NewGate(limiter, usage.NewRecorder(ledger, collector))
	userService := user.NewService(userRepo, sessionRepo)

	if cfg.ScannerURL == "" {
		slog.Warn("SCANNER_URL is not set, receipt scans will fail")
	}
	scanner := scan.NewClient(cfg.ScannerURL, cfg.ScannerTimeout, nil)

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
		HTTPMetrics:       collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Production:        cfg.IsProduction(),

		Authenticator:    resolver,
		SessionValidator: resolver,
		Cookies: middleware.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.SessionMaxAge,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		StateCodec:  auth.NewStateCodec(cfg.SessionSecret, oauthStateTTL),
		BaseURL:     cfg.BaseURL,

		Limits:        limits,
		UsageGate:     gate,
		UsageReporter: limiter,
		ScanConfig:    scanCfg,

		Scanner:     scanner,
		ScanMetrics: collector,

		UserService: userService,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ScannerTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	limits, err := loadLimits(cfg)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.SessionRetentionDays = cfg.SessionRetentionDays
	cleanupJob.UsageRetentionDays = cfg.UsageRetentionDays
	cleanupJob.SkipUsageEvents = cfg.UsageStore == config.UsageStoreRedis

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("session_retention_days", cfg.SessionRetentionDays),
		slog.Int("usage_retention_days", cfg.UsageRetentionDays),
		slog.Duration("longest_window", limits.LongestWindow()),
	)

	runPeriodically(ctx, cfg.CleanupInterval, func(ctx context.Context) {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	})

	slog.Info("worker stopped gracefully")
	return nil
}

// runPeriodically は起動直後に1回、その後interval毎にfnを実行する。ctxが終了するまでブロックする。
func runPeriodically(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// upはすべての未適用マイグレーションを適用し、downは直近steps件を戻す。
func runMigrate(cfg *config.Config, direction string, steps int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	var (
		version uint
		err     error
	)
	if direction == migrateDown {
		version, err = database.RollbackMigrations(cfg.DatabaseURL, steps)
	} else {
		version, err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
