package usage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/keihi/internal/model"
)

// UsageCounter は利用イベントの件数を数える読み取り専用のポート。
type UsageCounter interface {
	CountSince(ctx context.Context, tenantID, actionType string, since time.Time) (int, error)
}

// AlertSubmitter はアラートを非同期に受け付ける。Submitはブロックしてはならない。
type AlertSubmitter interface {
	Submit(alert model.RateLimitAlert)
}

// LimiterMetrics は利用制限チェックのメトリクス記録インターフェース。
type LimiterMetrics interface {
	RecordRateLimitCheck(action string, allowed bool)
	RecordRateLimitBreach(action, window string)
}

// Decision は利用制限チェックの結果。
// 超過時はAllowed=falseで、最初に超過したウィンドウの情報を持つ。
type Decision struct {
	Allowed           bool   `json:"allowed"`
	LimitHit          string `json:"limitHit,omitempty"`
	Current           int    `json:"current,omitempty"`
	Limit             int    `json:"limit,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// WindowUsage は1つのウィンドウの現在の利用状況。
type WindowUsage struct {
	Name      string `json:"name"`
	Seconds   int    `json:"seconds"`
	Limit     int    `json:"limit"`
	Current   int    `json:"current"`
	Remaining int    `json:"remaining"`
	Alerting  bool   `json:"alerting"`
}

// LimiterOption はLimiterのオプション。
type LimiterOption func(*Limiter)

// WithLimiterClock は現在時刻の取得関数を差し替える。
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// WithAlertSubmitter はアラートの送り先を指定する。未指定の場合アラートは送られない。
func WithAlertSubmitter(s AlertSubmitter) LimiterOption {
	return func(l *Limiter) { l.alerts = s }
}

// WithLimiterMetrics はメトリクスの記録先を指定する。
func WithLimiterMetrics(m LimiterMetrics) LimiterOption {
	return func(l *Limiter) { l.metrics = m }
}

// Limiter は入れ子になった時間ウィンドウごとに利用回数を数え、上限超過を判定する。
// 状態を持たず、書き込みも行わない。
type Limiter struct {
	counter UsageCounter
	alerts  AlertSubmitter
	metrics LimiterMetrics
	now     func() time.Time
	tracer  trace.Tracer
}

// NewLimiter はLimiterを生成する。
func NewLimiter(counter UsageCounter, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		counter: counter,
		now:     time.Now,
		tracer:  otel.Tracer("github.com/hitoshi/keihi/internal/usage"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check はウィンドウを短い順に評価し、最初に count >= limit となったウィンドウで打ち切る。
// 超過したウィンドウがAlertOnに含まれる場合は1件だけアラートを投入する。
// RetryAfterSecondsは残り時間ではなくウィンドウの長さそのもの。
func (l *Limiter) Check(ctx context.Context, tenantID string, cfg ActionConfig) (Decision, error) {
	ctx, span := l.tracer.Start(ctx, "usage.Check", trace.WithAttributes(
		attribute.String("keihi.tenant_id", tenantID),
		attribute.String("keihi.action", cfg.Action),
	))
	defer span.End()

	now := l.now()
	for _, w := range cfg.sortedWindows() {
		if w.Limit <= 0 {
			continue
		}

		count, err := l.counter.CountSince(ctx, tenantID, cfg.Action, now.Add(-w.Duration()))
		if err != nil {
			span.RecordError(err)
			return Decision{}, fmt.Errorf("failed to count usage for window %s: %w", w.Name, err)
		}
		if count < w.Limit {
			continue
		}

		if cfg.Alerts(w.Name) && l.alerts != nil {
			l.alerts.Submit(model.RateLimitAlert{
				TenantID:   tenantID,
				ActionType: cfg.Action,
				WindowName: w.Name,
				Current:    count,
				Limit:      w.Limit,
				OccurredAt: now,
			})
		}
		if l.metrics != nil {
			l.metrics.RecordRateLimitCheck(cfg.Action, false)
			l.metrics.RecordRateLimitBreach(cfg.Action, w.Name)
		}
		span.SetAttributes(attribute.String("keihi.limit_hit", w.Name))

		return Decision{
			Allowed:           false,
			LimitHit:          w.Name,
			Current:           count,
			Limit:             w.Limit,
			RetryAfterSeconds: w.Seconds,
		}, nil
	}

	if l.metrics != nil {
		l.metrics.RecordRateLimitCheck(cfg.Action, true)
	}
	return Decision{Allowed: true}, nil
}

// Usage は全ウィンドウの現在の利用回数を返す。判定もアラートも行わない。
func (l *Limiter) Usage(ctx context.Context, tenantID string, cfg ActionConfig) ([]WindowUsage, error) {
	now := l.now()
	windows := cfg.sortedWindows()
	out := make([]WindowUsage, 0, len(windows))
	for _, w := range windows {
		count, err := l.counter.CountSince(ctx, tenantID, cfg.Action, now.Add(-w.Duration()))
		if err != nil {
			return nil, fmt.Errorf("failed to count usage for window %s: %w", w.Name, err)
		}
		remaining := 0
		if w.Limit > count {
			remaining = w.Limit - count
		}
		out = append(out, WindowUsage{
			Name:      w.Name,
			Seconds:   w.Seconds,
			Limit:     w.Limit,
			Current:   count,
			Remaining: remaining,
			Alerting:  cfg.Alerts(w.Name),
		})
	}
	return out, nil
}
