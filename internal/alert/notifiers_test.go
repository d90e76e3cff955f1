package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

func testMessage() Message {
	return Render(testAlert(), "Acme", []string{"ops@example.com", "cfo@example.com"})
}

func TestRender(t *testing.T) {
	msg := testMessage()

	if msg.Subject != "[keihi] Acme: receipt_scan の1日上限に達しました" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{
		"テナント: Acme (tenant-1)",
		"ウィンドウ: perDay (1日)",
		"利用回数: 100 / 上限 100",
		"発生日時: 2026-04-01T09:00:00Z",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("Body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestRender_UnknownWindowUsesName(t *testing.T) {
	a := testAlert()
	a.WindowName = "perFortnight"
	if msg := Render(a, "Acme", nil); !strings.Contains(msg.Subject, "perFortnight") {
		t.Errorf("Subject = %q", msg.Subject)
	}
}

func TestLogNotifier_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := n.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log JSON: %v", err)
	}
	if entry["msg"] != "rate limit alert" || entry["level"] != "WARN" {
		t.Errorf("entry = %v", entry)
	}
	if entry["window"] != "perDay" || entry["tenant_name"] != "Acme" {
		t.Errorf("entry = %v", entry)
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got Message
	var contentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := NewWebhookNotifier(ts.URL, ts.Client())
	if err := n.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got.Alert.WindowName != "perDay" || got.TenantName != "Acme" || len(got.Recipients) != 2 {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := NewWebhookNotifier(ts.URL, ts.Client()).Notify(context.Background(), testMessage())
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Errorf("err = %v, want status 502", err)
	}
}

type fakePublisher struct {
	subject    string
	data       []byte
	publishErr error
	flushed    bool
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subject, p.data = subject, data
	return p.publishErr
}

func (p *fakePublisher) FlushWithContext(context.Context) error {
	p.flushed = true
	return nil
}

var _ Publisher = (*fakePublisher)(nil)

func TestNATSNotifier_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "keihi.alerts.rate_limit")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Notify(ctx, testMessage()); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if pub.subject != "keihi.alerts.rate_limit" {
		t.Errorf("subject = %q", pub.subject)
	}
	var got Message
	if err := json.Unmarshal(pub.data, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.Alert.TenantID != "tenant-1" {
		t.Errorf("payload = %+v", got)
	}
	if !pub.flushed {
		t.Error("expected flush when ctx has a deadline")
	}
}

func TestNATSNotifier_NoDeadlineSkipsFlush(t *testing.T) {
	pub := &fakePublisher{}
	if err := NewNATSNotifier(pub, "s").Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if pub.flushed {
		t.Error("flush requires a deadline and must be skipped")
	}
}

func TestNATSNotifier_PublishError(t *testing.T) {
	pub := &fakePublisher{publishErr: errors.New("nats: connection closed")}
	if err := NewNATSNotifier(pub, "s").Notify(context.Background(), testMessage()); err == nil {
		t.Error("expected error")
	}
}

func TestEmailNotifier_SendsPlainText(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	send := func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}
	n := NewEmailNotifier("smtp.example.com:25", "noreply@keihi.local", send)
	n.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }

	if err := n.Notify(context.Background(), testMessage()); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if gotAddr != "smtp.example.com:25" || gotFrom != "noreply@keihi.local" {
		t.Errorf("addr/from = %q/%q", gotAddr, gotFrom)
	}
	if len(gotTo) != 2 {
		t.Errorf("to = %v", gotTo)
	}
	for _, want := range []string{
		"To: ops@example.com, cfo@example.com\r\n",
		"Subject: =?utf-8?q?",
		"Content-Type: text/plain; charset=UTF-8\r\n",
		"利用回数: 100 / 上限 100\r\n",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestEmailNotifier_NoRecipientsIsNoop(t *testing.T) {
	called := false
	n := NewEmailNotifier("smtp:25", "from@x", func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	})
	if err := n.Notify(context.Background(), Render(testAlert(), "Acme", nil)); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if called {
		t.Error("no mail should be sent without recipients")
	}
}

func TestEmailNotifier_ExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := NewEmailNotifier("smtp:25", "from@x", func(string, smtp.Auth, string, []string, []byte) error {
		t.Error("send must not start after the context is done")
		return nil
	})
	if err := n.Notify(ctx, testMessage()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

type stubTenantRepo struct {
	tenant *model.Tenant
	err    error
}

func (s *stubTenantRepo) FindByID(context.Context, string) (*model.Tenant, error) {
	return s.tenant, s.err
}

func (s *stubTenantRepo) FindBySubdomain(context.Context, string) (*model.Tenant, error) {
	return nil, nil
}

func TestRepositoryNamer(t *testing.T) {
	name, err := NewRepositoryNamer(&stubTenantRepo{tenant: &model.Tenant{Name: "Acme"}}).TenantName(context.Background(), "tenant-1")
	if err != nil || name != "Acme" {
		t.Errorf("TenantName = %q, %v", name, err)
	}
	if _, err := NewRepositoryNamer(&stubTenantRepo{}).TenantName(context.Background(), "gone"); err == nil {
		t.Error("expected error for missing tenant")
	}
}
