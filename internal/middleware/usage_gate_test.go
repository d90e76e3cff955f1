package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/usage"
)

var scanConfig = usage.ActionConfig{
	Action:  model.ActionReceiptScan,
	Windows: []usage.Window{{Name: "perMinute", Seconds: 60, Limit: 10}},
}

func gatedRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan?tenant=acme", nil)
	return req.WithContext(ContextWithAuthResult(req.Context(), okResult()))
}

func TestUsageGate_Allowed_RecordsOnSuccess(t *testing.T) {
	checker := &mockUsageChecker{}
	recorder := &mockUsageRecorder{}

	var gotTenant string
	checker.checkFn = func(ctx context.Context, tenantID string, cfg usage.ActionConfig) (usage.Decision, error) {
		gotTenant = tenantID
		return usage.Decision{Allowed: true}, nil
	}

	handler := NewUsageGateMiddleware(usage.NewGate(checker, recorder), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gatedRequest())

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotTenant != "tenant-1" {
		t.Errorf("checked tenant = %q, want %q", gotTenant, "tenant-1")
	}
	if len(recorder.calls) != 1 {
		t.Fatalf("records = %d, want 1", len(recorder.calls))
	}
	if recorder.calls[0] != (recordCall{tenantID: "tenant-1", action: model.ActionReceiptScan}) {
		t.Errorf("record = %+v", recorder.calls[0])
	}
}

func TestUsageGate_ImplicitOKIsRecorded(t *testing.T) {
	recorder := &mockUsageRecorder{}
	handler := NewUsageGateMiddleware(usage.NewGate(&mockUsageChecker{}, recorder), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), gatedRequest())

	if len(recorder.calls) != 1 {
		t.Errorf("records = %d, want 1", len(recorder.calls))
	}
}

func TestUsageGate_FailedOperation_NotRecorded(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusBadGateway, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			recorder := &mockUsageRecorder{}
			handler := NewUsageGateMiddleware(usage.NewGate(&mockUsageChecker{}, recorder), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, gatedRequest())

			if w.Code != status {
				t.Errorf("status = %d, want %d", w.Code, status)
			}
			if len(recorder.calls) != 0 {
				t.Errorf("records = %d, want 0", len(recorder.calls))
			}
		})
	}
}

func TestUsageGate_Limited_Returns429WithoutCallingHandler(t *testing.T) {
	checker := &mockUsageChecker{
		checkFn: func(context.Context, string, usage.ActionConfig) (usage.Decision, error) {
			return usage.Decision{Allowed: false, LimitHit: "perMinute", Current: 10, Limit: 10, RetryAfterSeconds: 60}, nil
		},
	}
	recorder := &mockUsageRecorder{}
	handler := NewUsageGateMiddleware(usage.NewGate(checker, recorder), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called when limited")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gatedRequest())

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want %q", got, "60")
	}
	if len(recorder.calls) != 0 {
		t.Errorf("records = %d, want 0", len(recorder.calls))
	}
}

func TestUsageGate_CheckFailure_Returns500(t *testing.T) {
	checker := &mockUsageChecker{
		checkFn: func(context.Context, string, usage.ActionConfig) (usage.Decision, error) {
			return usage.Decision{}, errors.New("failed to count usage events: timeout")
		},
	}
	handler := NewUsageGateMiddleware(usage.NewGate(checker, &mockUsageRecorder{}), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gatedRequest())

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestUsageGate_RecordFailure_KeepsResponse(t *testing.T) {
	recorder := &mockUsageRecorder{err: errors.New("insert failed")}
	handler := NewUsageGateMiddleware(usage.NewGate(&mockUsageChecker{}, recorder), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gatedRequest())

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestUsageGate_WithoutTenantContext_Returns500(t *testing.T) {
	checker := &mockUsageChecker{}
	handler := NewUsageGateMiddleware(usage.NewGate(checker, &mockUsageRecorder{}), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/receipts/scan", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if checker.calls != 0 {
		t.Errorf("Check calls = %d, want 0", checker.calls)
	}
}

// 実際のLimiter/Recorderを通した一連の流れ。上限10件の10件目までは通り、11件目で拒否される。
func TestUsageGate_WithRealLimiter_EndToEnd(t *testing.T) {
	ledger := &sliceLedger{}
	limiter := usage.NewLimiter(ledger)
	recorder := usage.NewRecorder(ledger, nil)

	handler := NewUsageGateMiddleware(usage.NewGate(limiter, recorder), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 1; i <= 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, gatedRequest())
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gatedRequest())
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("request 11: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := ledger.count(); got != 10 {
		t.Errorf("recorded events = %d, want 10", got)
	}
}

// 200の送信後にクライアントが切断しても利用は記録される。
func TestUsageGate_ClientDisconnectAfterResponse_StillRecords(t *testing.T) {
	recorder := &mockUsageRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := NewUsageGateMiddleware(usage.NewGate(&mockUsageChecker{}, recorder), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"total":1200}`))
		cancel()
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan?tenant=acme", nil)
	req = req.WithContext(ContextWithAuthResult(ctx, okResult()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(recorder.calls) != 1 {
		t.Fatalf("records = %d, want 1", len(recorder.calls))
	}
}

func TestUsageGate_Limited_WritesDecisionBody(t *testing.T) {
	checker := &mockUsageChecker{
		checkFn: func(context.Context, string, usage.ActionConfig) (usage.Decision, error) {
			return usage.Decision{Allowed: false, LimitHit: "perDay", Current: 100, Limit: 100, RetryAfterSeconds: 86400}, nil
		},
	}
	handler := NewUsageGateMiddleware(usage.NewGate(checker, &mockUsageRecorder{}), scanConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called when limited")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gatedRequest())

	var body RateLimitResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.LimitHit != "perDay" || body.Current != 100 || body.Limit != 100 || body.RetryAfterSeconds != 86400 || body.Allowed {
		t.Errorf("body = %+v", body)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}
}
