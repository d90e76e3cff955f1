package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/keihi/internal/alert"
	"github.com/hitoshi/keihi/internal/config"
	"github.com/hitoshi/keihi/internal/repository"
	"github.com/hitoshi/keihi/internal/security"
	"github.com/hitoshi/keihi/internal/usage"
)

// loadLimits は利用上限設定を読み込み、保持期間との整合性を検証する。
// RATE_LIMITS_FILEが未設定の場合は組み込みの既定値を使う。
func loadLimits(cfg *config.Config) (*usage.Limits, error) {
	var (
		limits *usage.Limits
		err    error
	)
	if cfg.RateLimitsFile != "" {
		limits, err = usage.LoadLimits(cfg.RateLimitsFile)
	} else {
		limits, err = usage.DefaultLimits()
	}
	if err != nil {
		return nil, err
	}

	if err := validateRetention(cfg, limits); err != nil {
		return nil, err
	}

	slog.Info("rate limits loaded",
		slog.Any("actions", limits.Actions()),
		slog.String("source", limitsSource(cfg)),
	)
	return limits, nil
}

func limitsSource(cfg *config.Config) string {
	if cfg.RateLimitsFile == "" {
		return "default"
	}
	return cfg.RateLimitsFile
}

// validateRetention は利用イベントの保持期間が最長のウィンドウより長いことを確認する。
// 短い場合はクリーンアップがウィンドウ内のイベントを消し、上限判定が甘くなる。
func validateRetention(cfg *config.Config, limits *usage.Limits) error {
	retention := time.Duration(cfg.UsageRetentionDays) * 24 * time.Hour
	if longest := limits.LongestWindow(); retention <= longest {
		return fmt.Errorf("USAGE_RETENTION_DAYS (%d) must exceed the longest rate limit window (%s)",
			cfg.UsageRetentionDays, longest)
	}
	if cfg.SessionRetentionDays < 0 {
		return fmt.Errorf("SESSION_RETENTION_DAYS must not be negative: %d", cfg.SessionRetentionDays)
	}
	return nil
}

// openUsageLedger はUSAGE_STOREに応じて利用イベント台帳を開く。
// 返す終了関数は台帳が保持する接続を閉じる。
func openUsageLedger(ctx context.Context, cfg *config.Config, db *sql.DB, limits *usage.Limits) (repository.UsageEventRepository, func(), error) {
	if cfg.UsageStore != config.UsageStoreRedis {
		return repository.NewPostgresUsageEventRepo(db), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// Redis側では最長ウィンドウより少し長く保持すれば判定に足りる
	retention := limits.LongestWindow() + time.Hour
	slog.Info("usage ledger: redis",
		slog.String("addr", opts.Addr),
		slog.Duration("retention", retention),
	)

	repo := repository.NewRedisUsageEventRepo(rdb, repository.WithUsageRetention(retention))
	return repo, func() {
		if err := rdb.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}, nil
}

// buildNotifiers は設定されている配送先のNotifierを組み立てる。
// ログ出力は常に有効。返す終了関数は外部接続を閉じる。
func buildNotifiers(cfg *config.Config) ([]alert.Notifier, func(), error) {
	notifiers := []alert.Notifier{alert.NewLogNotifier(slog.Default())}
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.AlertWebhookURL != "" {
		guard := security.NewURLGuard()
		if err := guard.ValidateURL(cfg.AlertWebhookURL); err != nil {
			return nil, nil, fmt.Errorf("invalid ALERT_WEBHOOK_URL: %w", err)
		}
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.AlertWebhookURL, guard.NewSafeClient(cfg.AlertTimeout)))
	}

	if cfg.AlertNATSURL != "" {
		nc, err := nats.Connect(cfg.AlertNATSURL,
			nats.Name("keihi-alerts"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		})
		notifiers = append(notifiers, alert.NewNATSNotifier(nc, cfg.AlertNATSSubject))
	}

	if cfg.AlertSMTPAddr != "" {
		if len(cfg.AlertRecipients) == 0 {
			slog.Warn("ALERT_SMTP_ADDR is set but ALERT_RECIPIENTS is empty, email alerts will be skipped")
		}
		notifiers = append(notifiers, alert.NewEmailNotifier(cfg.AlertSMTPAddr, cfg.AlertSMTPFrom, nil))
	}

	names := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		names = append(names, n.Name())
	}
	slog.Info("alert notifiers configured", slog.Any("notifiers", names))

	return notifiers, closeAll, nil
}
