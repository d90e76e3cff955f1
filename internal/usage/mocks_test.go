package usage

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// memLedger はCountSinceとInsertをメモリ上で実装するテスト用の台帳。
type memLedger struct {
	mu       sync.Mutex
	events   []model.UsageEvent
	counts   int
	inserts  int
	countErr error
}

func (m *memLedger) CountSince(_ context.Context, tenantID, actionType string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts++
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, e := range m.events {
		if e.TenantID == tenantID && e.ActionType == actionType && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memLedger) Insert(ctx context.Context, event *model.UsageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	m.events = append(m.events, *event)
	return nil
}

// seed は基準時刻からageだけ前のイベントをn件追加する。
func (m *memLedger) seed(tenantID, action string, n int, age time.Duration) {
	for i := 0; i < n; i++ {
		m.events = append(m.events, model.UsageEvent{
			ID:         "seed",
			TenantID:   tenantID,
			ActionType: action,
			CreatedAt:  testNow.Add(-age),
		})
	}
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []model.RateLimitAlert
}

func (r *recordingAlerts) Submit(a model.RateLimitAlert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

type mockMetrics struct {
	checks   []string
	breaches []string
	usage    []string
}

func (m *mockMetrics) RecordRateLimitCheck(action string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "limited"
	}
	m.checks = append(m.checks, action+":"+result)
}

func (m *mockMetrics) RecordRateLimitBreach(action, window string) {
	m.breaches = append(m.breaches, action+":"+window)
}

func (m *mockMetrics) RecordUsage(action string) {
	m.usage = append(m.usage, action)
}

var (
	_ UsageCounter    = (*memLedger)(nil)
	_ EventAppender   = (*memLedger)(nil)
	_ AlertSubmitter  = (*recordingAlerts)(nil)
	_ LimiterMetrics  = (*mockMetrics)(nil)
	_ RecorderMetrics = (*mockMetrics)(nil)
)

func fixedClock() time.Time { return testNow }
