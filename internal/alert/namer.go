package alert

import (
	"context"
	"fmt"

	"github.com/hitoshi/keihi/internal/repository"
)

// NewRepositoryNamer はテナントリポジトリから表示名を引くTenantNamerを返す。
func NewRepositoryNamer(tenants repository.TenantRepository) TenantNamer {
	return TenantNamerFunc(func(ctx context.Context, tenantID string) (string, error) {
		tenant, err := tenants.FindByID(ctx, tenantID)
		if err != nil {
			return "", fmt.Errorf("failed to find tenant: %w", err)
		}
		if tenant == nil {
			return "", fmt.Errorf("tenant %s not found", tenantID)
		}
		return tenant.Name, nil
	})
}
