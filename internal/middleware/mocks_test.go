package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/keihi/internal/auth"
	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/usage"
)

// --- モック定義 ---

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, token, tenant string) (*auth.AuthResult, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token, tenant string) (*auth.AuthResult, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, token, tenant)
	}
	return nil, auth.ErrNoCredential
}

type mockSessionValidator struct {
	validateFn func(ctx context.Context, token string) (*model.Session, *model.User, error)
}

func (m *mockSessionValidator) ValidateSession(ctx context.Context, token string) (*model.Session, *model.User, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, token)
	}
	return nil, nil, auth.ErrNoCredential
}

type mockUsageChecker struct {
	checkFn func(ctx context.Context, tenantID string, cfg usage.ActionConfig) (usage.Decision, error)
	calls   int
}

func (m *mockUsageChecker) Check(ctx context.Context, tenantID string, cfg usage.ActionConfig) (usage.Decision, error) {
	m.calls++
	if m.checkFn != nil {
		return m.checkFn(ctx, tenantID, cfg)
	}
	return usage.Decision{Allowed: true}, nil
}

type recordCall struct {
	tenantID string
	action   string
}

// mockUsageRecorder はExecContextと同様にキャンセル済みのctxでは失敗する。
type mockUsageRecorder struct {
	mu    sync.Mutex
	calls []recordCall
	err   error
}

func (m *mockUsageRecorder) Record(ctx context.Context, tenantID, action string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordCall{tenantID: tenantID, action: action})
	return m.err
}

type mockStatusMetrics struct {
	statuses []int
}

func (m *mockStatusMetrics) RecordHTTPStatus(code int) {
	m.statuses = append(m.statuses, code)
}

var (
	_ Authenticator       = (*mockAuthenticator)(nil)
	_ SessionValidator    = (*mockSessionValidator)(nil)
	_ usage.Checker       = (*mockUsageChecker)(nil)
	_ usage.EventRecorder = (*mockUsageRecorder)(nil)
	_ StatusMetrics       = (*mockStatusMetrics)(nil)
)

func okResult() *auth.AuthResult {
	return &auth.AuthResult{
		User:      &model.User{ID: "user-1", Email: "a@example.com"},
		Tenant:    &model.Tenant{ID: "tenant-1", Subdomain: "acme"},
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Role:      "member",
	}
}

// sliceLedger はusage.UsageCounterとusage.EventAppenderを満たすインメモリ台帳。
type sliceLedger struct {
	mu     sync.Mutex
	events []*model.UsageEvent
}

func (l *sliceLedger) Insert(_ context.Context, e *model.UsageEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *sliceLedger) CountSince(_ context.Context, tenantID, action string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.TenantID == tenantID && e.ActionType == action && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (l *sliceLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
