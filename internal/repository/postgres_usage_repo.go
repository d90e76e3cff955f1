package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

// PostgresUsageEventRepo はPostgreSQLを使用した利用イベント台帳。
// (tenant_id, action_type, created_at) の複合インデックスで範囲カウントを行う。
type PostgresUsageEventRepo struct {
	db *sql.DB
}

// NewPostgresUsageEventRepo はPostgresUsageEventRepoを生成する。
func NewPostgresUsageEventRepo(db *sql.DB) *PostgresUsageEventRepo {
	return &PostgresUsageEventRepo{db: db}
}

// Insert は利用イベントを1件追記する。
func (r *PostgresUsageEventRepo) Insert(ctx context.Context, event *model.UsageEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, tenant_id, action_type, created_at)
		 VALUES ($1, $2, $3, $4)`,
		event.ID, event.TenantID, event.ActionType, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// CountSince は created_at >= since のイベント数を返す。
func (r *PostgresUsageEventRepo) CountSince(ctx context.Context, tenantID, actionType string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM usage_events
		 WHERE tenant_id = $1 AND action_type = $2 AND created_at >= $3`,
		tenantID, actionType, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage events: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ UsageEventRepository = (*PostgresUsageEventRepo)(nil)
