package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

// PostgresTenantAccessRepo はPostgreSQLを使用したテナントアクセス権リポジトリ。
type PostgresTenantAccessRepo struct {
	db *sql.DB
}

// NewPostgresTenantAccessRepo はPostgresTenantAccessRepoを生成する。
func NewPostgresTenantAccessRepo(db *sql.DB) *PostgresTenantAccessRepo {
	return &PostgresTenantAccessRepo{db: db}
}

// Find はユーザーとテナントの組でアクセス権を取得する。見つからない場合はnilを返す。
func (r *PostgresTenantAccessRepo) Find(ctx context.Context, userID, tenantID string) (*model.TenantAccess, error) {
	access := &model.TenantAccess{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, tenant_id, role, created_at
		 FROM tenant_access
		 WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID,
	).Scan(&access.ID, &access.UserID, &access.TenantID, &access.Role, &access.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant access: %w", err)
	}

	return access, nil
}

// ListByUserID はユーザーが持つ全テナントのアクセス権を作成順で返す。
func (r *PostgresTenantAccessRepo) ListByUserID(ctx context.Context, userID string) ([]*model.TenantAccess, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, tenant_id, role, created_at
		 FROM tenant_access
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant access: %w", err)
	}
	defer rows.Close()

	var result []*model.TenantAccess
	for rows.Next() {
		access := &model.TenantAccess{}
		if err := rows.Scan(&access.ID, &access.UserID, &access.TenantID, &access.Role, &access.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant access: %w", err)
		}
		result = append(result, access)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant access: %w", err)
	}

	return result, nil
}

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertTenantAccess はアクセス権を追加する。
// (user_id, tenant_id) の一意制約に衝突した場合は既存の行を維持する。
func insertTenantAccess(ctx context.Context, db execer, access *model.TenantAccess) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO tenant_access (id, user_id, tenant_id, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, tenant_id) DO NOTHING`,
		access.ID, access.UserID, access.TenantID, access.Role, access.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant access: %w", err)
	}
	return nil
}

// markInviteAccepted は招待を承諾済みにする。既に承諾済みの招待は変更しない。
func markInviteAccepted(ctx context.Context, db execer, inviteID string, acceptedAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE invites SET accepted_at = $2 WHERE id = $1 AND accepted_at IS NULL`,
		inviteID, acceptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark invite accepted: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TenantAccessRepository = (*PostgresTenantAccessRepo)(nil)
