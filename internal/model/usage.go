package model

import "time"

// ActionReceiptScan はAIによるレシート読み取り操作のアクション種別。
const ActionReceiptScan = "receipt_scan"

// UsageEvent はレート制限対象の操作が1回成功したことを記録する不変の事実。
// 作成後に更新・削除されることはない。
type UsageEvent struct {
	ID         string
	TenantID   string
	ActionType string
	CreatedAt  time.Time
}

// RateLimitAlert はアラート対象のウィンドウが超過したときに通知される内容。
type RateLimitAlert struct {
	TenantID   string
	ActionType string
	WindowName string
	Current    int
	Limit      int
	OccurredAt time.Time
}
