// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateFromInvite はユーザー、テナントアクセス、招待の承諾を同一トランザクションで記録する。
	// メールアドレスが既に登録されている場合はErrDuplicateを返す。
	CreateFromInvite(ctx context.Context, user *model.User, access *model.TenantAccess, inviteID string, acceptedAt time.Time) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するtenant_accessはCASCADE削除される。sessionsは削除されない。
	DeleteByID(ctx context.Context, id string) error
}

// TenantRepository はテナントデータの永続化インターフェース。
type TenantRepository interface {
	// FindByID は指定IDのテナントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tenant, error)

	// FindBySubdomain はサブドメインでテナントを取得する。見つからない場合はnilを返す。
	FindBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error)
}

// TenantAccessRepository はテナントアクセス権の永続化インターフェース。
type TenantAccessRepository interface {
	// Find はユーザーとテナントの組でアクセス権を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID, tenantID string) (*model.TenantAccess, error)

	// ListByUserID はユーザーが持つ全テナントのアクセス権を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.TenantAccess, error)
}

// InviteRepository は招待データの永続化インターフェース。
type InviteRepository interface {
	// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Invite, error)

	// FindPendingByEmail は指定メールアドレス宛の未承諾かつ期限内の招待を新しい順で1件取得する。
	// 見つからない場合はnilを返す。
	FindPendingByEmail(ctx context.Context, email string, now time.Time) (*model.Invite, error)

	// Accept は既存ユーザーにアクセス権を付与し、招待を承諾済みにする。
	// (user_id, tenant_id) が既に存在する場合はアクセス権を変更しない。
	Accept(ctx context.Context, inviteID string, access *model.TenantAccess, acceptedAt time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken はトークンでセッションを取得する。見つからない場合はnilを返す。
	// 期限切れの判定は呼び出し側で行う。
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// DeleteByToken は指定トークンのセッションを削除する。
	DeleteByToken(ctx context.Context, token string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// UsageEventRepository は利用イベント台帳の永続化インターフェース。
// 追記と時間範囲のカウントのみを提供し、更新・削除は提供しない。
type UsageEventRepository interface {
	// Insert は利用イベントを1件追記する。
	Insert(ctx context.Context, event *model.UsageEvent) error

	// CountSince は (tenantID, actionType) の created_at >= since のイベント数を返す。
	CountSince(ctx context.Context, tenantID, actionType string, since time.Time) (int, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
