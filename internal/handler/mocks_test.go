package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/keihi/internal/auth"
	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/scan"
	"github.com/hitoshi/keihi/internal/usage"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code, inviteID string, meta auth.ClientMeta) (*model.Session, error)
	logoutFn         func(ctx context.Context, token string) error
	getCurrentUserFn func(ctx context.Context, token string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code, inviteID string, meta auth.ClientMeta) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code, inviteID, meta)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, token)
	}
	return nil, auth.ErrNoCredential
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockScanner struct {
	scanFn func(ctx context.Context, tenantID string, img scan.Image) (*scan.Receipt, error)
	calls  int
}

func (m *mockScanner) Scan(ctx context.Context, tenantID string, img scan.Image) (*scan.Receipt, error) {
	m.calls++
	if m.scanFn != nil {
		return m.scanFn(ctx, tenantID, img)
	}
	return &scan.Receipt{Vendor: "コンビニ", Total: 1280, Currency: "JPY"}, nil
}

type mockScanMetrics struct {
	latencies []time.Duration
}

func (m *mockScanMetrics) RecordScanLatency(d time.Duration) {
	m.latencies = append(m.latencies, d)
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

// memLedger はusage.UsageCounterとusage.EventAppenderを満たすインメモリ台帳。
type memLedger struct {
	mu     sync.Mutex
	events []*model.UsageEvent
}

func (l *memLedger) Insert(_ context.Context, e *model.UsageEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *memLedger) CountSince(_ context.Context, tenantID, action string, since time.Time) (int, error) {
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

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

var (
	_ AuthServiceInterface = (*mockAuthService)(nil)
	_ UserServiceInterface = (*mockUserService)(nil)
	_ scan.Scanner         = (*mockScanner)(nil)
	_ ScanMetrics          = (*mockScanMetrics)(nil)
	_ HealthChecker        = (*mockHealthChecker)(nil)
	_ usage.UsageCounter   = (*memLedger)(nil)
	_ usage.EventAppender  = (*memLedger)(nil)
)

func testAuthResult() *auth.AuthResult {
	return &auth.AuthResult{
		User:      &model.User{ID: "user-1", Email: "a@example.com"},
		Tenant:    &model.Tenant{ID: "tenant-1", Subdomain: "acme", Name: "Acme", PrimaryColor: "#0055aa"},
		TenantID:  "tenant-1",
		SessionID: "session-1",
		Role:      "admin",
	}
}

func testLimits(t *testing.T) *usage.Limits {
	t.Helper()
	limits, err := usage.ParseLimits([]byte(`
actions:
  receipt_scan:
    windows:
      - {name: perMinute, seconds: 60, limit: 2}
      - {name: perDay, seconds: 86400, limit: 100}
    alertOn: [perDay]
`))
	if err != nil {
		t.Fatalf("ParseLimits error: %v", err)
	}
	return limits
}

func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
