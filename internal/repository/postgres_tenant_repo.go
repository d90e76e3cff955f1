package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/keihi/internal/model"
)

// PostgresTenantRepo はPostgreSQLを使用したテナントリポジトリ。
type PostgresTenantRepo struct {
	db *sql.DB
}

// NewPostgresTenantRepo はPostgresTenantRepoを生成する。
func NewPostgresTenantRepo(db *sql.DB) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db}
}

const tenantColumns = `id, subdomain, name, logo_url, primary_color, is_active, created_at`

// FindByID は指定IDのテナントを取得する。見つからない場合はnilを返す。
func (r *PostgresTenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`,
		id,
	)
	tenant, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant by ID: %w", err)
	}
	return tenant, nil
}

// FindBySubdomain はサブドメインでテナントを取得する。見つからない場合はnilを返す。
// サブドメインは小文字で保存されている。
func (r *PostgresTenantRepo) FindBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE subdomain = $1`,
		strings.ToLower(subdomain),
	)
	tenant, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant by subdomain: %w", err)
	}
	return tenant, nil
}

func scanTenant(row rowScanner) (*model.Tenant, error) {
	tenant := &model.Tenant{}
	var logoURL, primaryColor sql.NullString
	err := row.Scan(
		&tenant.ID, &tenant.Subdomain, &tenant.Name, &logoURL, &primaryColor,
		&tenant.IsActive, &tenant.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tenant.LogoURL = logoURL.String
	tenant.PrimaryColor = primaryColor.String
	return tenant, nil
}

// compile-time interface check
var _ TenantRepository = (*PostgresTenantRepo)(nil)
