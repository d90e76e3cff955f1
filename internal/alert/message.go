package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

// Message は各Notifierに渡す配送内容。
type Message struct {
	Subject    string               `json:"subject"`
	Body       string               `json:"body"`
	Recipients []string             `json:"recipients"`
	TenantName string               `json:"tenantName"`
	Alert      model.RateLimitAlert `json:"alert"`
}

var windowLabels = map[string]string{
	"perMinute": "1分間",
	"perHour":   "1時間",
	"perDay":    "1日",
	"perMonth":  "1か月",
}

// Render はアラートから件名と本文を組み立てる。tenantNameはサニタイズ済みであること。
func Render(a model.RateLimitAlert, tenantName string, recipients []string) Message {
	label, ok := windowLabels[a.WindowName]
	if !ok {
		label = a.WindowName
	}

	subject := fmt.Sprintf("[keihi] %s: %s の%s上限に達しました", tenantName, a.ActionType, label)

	var b strings.Builder
	fmt.Fprintf(&b, "テナント: %s (%s)\n", tenantName, a.TenantID)
	fmt.Fprintf(&b, "アクション: %s\n", a.ActionType)
	fmt.Fprintf(&b, "ウィンドウ: %s (%s)\n", a.WindowName, label)
	fmt.Fprintf(&b, "利用回数: %d / 上限 %d\n", a.Current, a.Limit)
	fmt.Fprintf(&b, "発生日時: %s\n", a.OccurredAt.UTC().Format(time.RFC3339))

	return Message{
		Subject:    subject,
		Body:       b.String(),
		Recipients: recipients,
		TenantName: tenantName,
		Alert:      a,
	}
}
