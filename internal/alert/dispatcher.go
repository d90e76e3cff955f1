// Package alert は利用上限超過のアラートを非同期に通知する。
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/security"
)

// Notifier はアラートの配送先。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// TenantNamer はテナントIDから表示名を解決する。
type TenantNamer interface {
	TenantName(ctx context.Context, tenantID string) (string, error)
}

// TenantNamerFunc は関数をTenantNamerとして使うためのアダプタ。
type TenantNamerFunc func(ctx context.Context, tenantID string) (string, error)

// TenantName はf(ctx, tenantID)を呼ぶ。
func (f TenantNamerFunc) TenantName(ctx context.Context, tenantID string) (string, error) {
	return f(ctx, tenantID)
}

// Metrics はアラート配送のメトリクス記録インターフェース。
type Metrics interface {
	RecordAlertDelivered(notifier string)
	RecordAlertFailed(notifier string)
	RecordAlertDropped()
}

// Config はDispatcherの設定。
type Config struct {
	Recipients []string
	QueueSize  int
	Workers    int
	// Timeout は1件のアラート配送全体の上限。0の場合は上限なし。
	Timeout time.Duration
}

// Dispatcher はアラートをキューで受け付け、ワーカーが全Notifierへ配送する。
// 重複排除は行わない。
type Dispatcher struct {
	cfg       Config
	namer     TenantNamer
	notifiers []Notifier
	sanitizer security.TextSanitizer
	metrics   Metrics

	queue   chan model.RateLimitAlert
	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。Startを呼ぶまで配送は行われない。
// metricsはnilでもよい。
func NewDispatcher(cfg Config, namer TenantNamer, notifiers []Notifier, metrics Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Dispatcher{
		cfg:       cfg,
		namer:     namer,
		notifiers: notifiers,
		sanitizer: security.NewTextSanitizer(),
		metrics:   metrics,
		queue:     make(chan model.RateLimitAlert, cfg.QueueSize),
	}
}

// Submit はアラートをキューに積む。ブロックせず、キューが満杯または停止後の場合は破棄する。
func (d *Dispatcher) Submit(a model.RateLimitAlert) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		slog.Warn("alert dropped after shutdown",
			slog.String("tenant_id", a.TenantID),
			slog.String("window", a.WindowName),
		)
		d.recordDropped()
		return
	}

	select {
	case d.queue <- a:
	default:
		slog.Warn("alert queue full, dropping alert",
			slog.String("tenant_id", a.TenantID),
			slog.String("action", a.ActionType),
			slog.String("window", a.WindowName),
			slog.Int("queue_size", d.cfg.QueueSize),
		)
		d.recordDropped()
	}
}

// Start はワーカーを起動する。ctxは配送時のコンテキストの親になる。
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for a := range d.queue {
				d.deliver(context.WithoutCancel(ctx), a)
			}
		}()
	}
	slog.Info("alert dispatcher started",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("notifiers", len(d.notifiers)),
	)
}

// Close は受け付けを停止し、キューに残ったアラートを配送し終えるまで待つ。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		if n := len(d.queue); n > 0 {
			slog.Warn("alert dispatcher closed before start, discarding queued alerts", slog.Int("count", n))
		}
		return
	}
	d.wg.Wait()
	slog.Info("alert dispatcher stopped")
}

// deliver は1件のアラートを全Notifierへ配送する。失敗はまとめて1回だけログに出す。
func (d *Dispatcher) deliver(ctx context.Context, a model.RateLimitAlert) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic recovered in alert delivery",
				slog.Any("panic", r),
				slog.String("tenant_id", a.TenantID),
			)
		}
	}()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	msg := Render(a, d.tenantName(ctx, a.TenantID), d.cfg.Recipients)

	var errs []error
	for _, n := range d.notifiers {
		if err := notifySafely(ctx, n, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			if d.metrics != nil {
				d.metrics.RecordAlertFailed(n.Name())
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.RecordAlertDelivered(n.Name())
		}
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("failed to deliver rate limit alert",
			slog.String("tenant_id", a.TenantID),
			slog.String("action", a.ActionType),
			slog.String("window", a.WindowName),
			slog.Int("failed", len(errs)),
			slog.String("error", err.Error()),
		)
	}
}

// tenantName は表示名を解決する。解決できない場合はテナントIDをそのまま使う。
func (d *Dispatcher) tenantName(ctx context.Context, tenantID string) string {
	if d.namer == nil {
		return tenantID
	}
	name, err := d.namer.TenantName(ctx, tenantID)
	if err != nil {
		slog.Warn("failed to resolve tenant name for alert",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return tenantID
	}
	if clean := d.sanitizer.Sanitize(name); clean != "" {
		return clean
	}
	return tenantID
}

func notifySafely(ctx context.Context, n Notifier, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return n.Notify(ctx, msg)
}

func (d *Dispatcher) recordDropped() {
	if d.metrics != nil {
		d.metrics.RecordAlertDropped()
	}
}
