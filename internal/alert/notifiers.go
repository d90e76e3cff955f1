package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// LogNotifier はアラートを構造化ログに出力する。常に利用可能な配送先。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Name は"log"を返す。
func (n *LogNotifier) Name() string { return "log" }

// Notify はアラートを警告ログとして出力する。失敗しない。
func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.WarnContext(ctx, "rate limit alert",
		slog.String("tenant_id", msg.Alert.TenantID),
		slog.String("tenant_name", msg.TenantName),
		slog.String("action", msg.Alert.ActionType),
		slog.String("window", msg.Alert.WindowName),
		slog.Int("current", msg.Alert.Current),
		slog.Int("limit", msg.Alert.Limit),
		slog.Any("recipients", msg.Recipients),
	)
	return nil
}

// WebhookNotifier はアラートをJSONでPOSTする。
// clientにはsecurity.URLGuardが生成したSSRF防止付きクライアントを渡す。
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

// Name は"webhook"を返す。
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify はメッセージをJSONでPOSTし、2xx以外をエラーとする。
func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "keihi-alert/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Publisher はNATSへのpublishを抽象化する。*nats.Connが満たす。
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSNotifier はアラートをJSONでNATSのsubjectへpublishする。
type NATSNotifier struct {
	pub     Publisher
	subject string
}

// NewNATSNotifier はNATSNotifierを生成する。
func NewNATSNotifier(pub Publisher, subject string) *NATSNotifier {
	return &NATSNotifier{pub: pub, subject: subject}
}

// Name は"nats"を返す。
func (n *NATSNotifier) Name() string { return "nats" }

// Notify はメッセージをJSONでpublishする。
func (n *NATSNotifier) Notify(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode nats payload: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}
	// Flushはctxに期限が無いとエラーになるため、期限が設定されている場合のみ待つ
	if _, ok := ctx.Deadline(); ok {
		if err := n.pub.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("failed to flush nats connection: %w", err)
		}
	}
	return nil
}

// SendMailFunc はsmtp.SendMailと同じシグネチャの送信関数。
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier はアラートをプレーンテキストのメールで送信する。
type EmailNotifier struct {
	addr     string
	from     string
	sendMail SendMailFunc
	now      func() time.Time
}

// NewEmailNotifier はEmailNotifierを生成する。sendMailがnilの場合はsmtp.SendMailを使う。
func NewEmailNotifier(addr, from string, sendMail SendMailFunc) *EmailNotifier {
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &EmailNotifier{addr: addr, from: from, sendMail: sendMail, now: time.Now}
}

// Name は"email"を返す。
func (n *EmailNotifier) Name() string { return "email" }

// Notify は宛先が無い場合は何もしない。smtp.SendMailはctxを受け取らないため、
// 期限切れのctxでは送信を開始しない。
func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := n.sendMail(n.addr, nil, n.from, msg.Recipients, n.compose(msg)); err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}
	return nil
}

func (n *EmailNotifier) compose(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
