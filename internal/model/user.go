// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// TenantIDがnilのユーザーはテナント横断で操作する（経理担当、運営者など）。
type User struct {
	ID           string
	Email        string
	Name         string
	TenantID     *string
	IsSuperAdmin bool
	IsAccountant bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tenant は組織単位（ワークスペース）を表す。
// Subdomainは一意で、リクエストのテナント指定に使われる。
type Tenant struct {
	ID           string
	Subdomain    string
	Name         string
	LogoURL      string
	PrimaryColor string
	IsActive     bool
	CreatedAt    time.Time
}

// TenantAccess はユーザーにテナント内のロールを付与する。
// (UserID, TenantID) の組は一意。
type TenantAccess struct {
	ID        string
	UserID    string
	TenantID  string
	Role      string
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// 作成後は読み取り専用で、ログアウトによる削除かExpiresAt経過による失効のみ。
type Session struct {
	ID        string
	UserID    string
	TenantID  *string
	Token     string
	ExpiresAt time.Time
	UserAgent string
	IPAddress string
	CreatedAt time.Time
}

// IsValidAt は指定時刻においてセッションが有効かどうかを返す。
func (s *Session) IsValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Invite はテナントへの招待を表す。
// 未登録のメールアドレスでログインしたとき、保留中の招待があればユーザーを作成する。
type Invite struct {
	ID         string
	Email      string
	TenantID   string
	Role       string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

// IsPendingAt は招待が未承諾かつ期限内かどうかを返す。
func (i *Invite) IsPendingAt(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}
