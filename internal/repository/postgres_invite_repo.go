package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

// PostgresInviteRepo はPostgreSQLを使用した招待リポジトリ。
type PostgresInviteRepo struct {
	db *sql.DB
}

// NewPostgresInviteRepo はPostgresInviteRepoを生成する。
func NewPostgresInviteRepo(db *sql.DB) *PostgresInviteRepo {
	return &PostgresInviteRepo{db: db}
}

const inviteColumns = `id, email, tenant_id, role, invited_by, expires_at, accepted_at, created_at`

// FindByID は指定IDの招待を取得する。見つからない場合はnilを返す。
func (r *PostgresInviteRepo) FindByID(ctx context.Context, id string) (*model.Invite, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE id = $1`,
		id,
	)
	invite, err := scanInvite(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find invite: %w", err)
	}
	return invite, nil
}

// FindPendingByEmail は未承諾かつ期限内の招待を新しい順で1件取得する。
func (r *PostgresInviteRepo) FindPendingByEmail(ctx context.Context, email string, now time.Time) (*model.Invite, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+`
		 FROM invites
		 WHERE email = $1 AND accepted_at IS NULL AND expires_at > $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		strings.ToLower(email), now,
	)
	invite, err := scanInvite(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invite: %w", err)
	}
	return invite, nil
}

// Accept は既存ユーザーにアクセス権を付与し、招待を承諾済みにする。
func (r *PostgresInviteRepo) Accept(ctx context.Context, inviteID string, access *model.TenantAccess, acceptedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTenantAccess(ctx, tx, access); err != nil {
		return err
	}
	if err := markInviteAccepted(ctx, tx, inviteID, acceptedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanInvite(row rowScanner) (*model.Invite, error) {
	invite := &model.Invite{}
	var invitedBy sql.NullString
	var acceptedAt sql.NullTime
	err := row.Scan(
		&invite.ID, &invite.Email, &invite.TenantID, &invite.Role, &invitedBy,
		&invite.ExpiresAt, &acceptedAt, &invite.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	invite.InvitedBy = invitedBy.String
	if acceptedAt.Valid {
		t := acceptedAt.Time
		invite.AcceptedAt = &t
	}
	return invite, nil
}

// compile-time interface check
var _ InviteRepository = (*PostgresInviteRepo)(nil)
