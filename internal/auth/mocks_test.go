package auth

import (
	"context"
	"time"

	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn      func(ctx context.Context, email string) (*model.User, error)
	createFromInviteFn func(ctx context.Context, user *model.User, access *model.TenantAccess, inviteID string, acceptedAt time.Time) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateFromInvite(ctx context.Context, user *model.User, access *model.TenantAccess, inviteID string, acceptedAt time.Time) error {
	if m.createFromInviteFn != nil {
		return m.createFromInviteFn(ctx, user, access, inviteID, acceptedAt)
	}
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error {
	return nil
}

type mockTenantRepo struct {
	findBySubdomainFn func(ctx context.Context, subdomain string) (*model.Tenant, error)
}

func (m *mockTenantRepo) FindByID(_ context.Context, _ string) (*model.Tenant, error) {
	return nil, nil
}

func (m *mockTenantRepo) FindBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error) {
	if m.findBySubdomainFn != nil {
		return m.findBySubdomainFn(ctx, subdomain)
	}
	return nil, nil
}

type mockAccessRepo struct {
	findFn func(ctx context.Context, userID, tenantID string) (*model.TenantAccess, error)
}

func (m *mockAccessRepo) Find(ctx context.Context, userID, tenantID string) (*model.TenantAccess, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, tenantID)
	}
	return nil, nil
}

func (m *mockAccessRepo) ListByUserID(_ context.Context, _ string) ([]*model.TenantAccess, error) {
	return nil, nil
}

type mockInviteRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.Invite, error)
	findPendingByEmailFn func(ctx context.Context, email string, now time.Time) (*model.Invite, error)
	acceptFn             func(ctx context.Context, inviteID string, access *model.TenantAccess, acceptedAt time.Time) error
}

func (m *mockInviteRepo) FindByID(ctx context.Context, id string) (*model.Invite, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockInviteRepo) FindPendingByEmail(ctx context.Context, email string, now time.Time) (*model.Invite, error) {
	if m.findPendingByEmailFn != nil {
		return m.findPendingByEmailFn(ctx, email, now)
	}
	return nil, nil
}

func (m *mockInviteRepo) Accept(ctx context.Context, inviteID string, access *model.TenantAccess, acceptedAt time.Time) error {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, inviteID, access, acceptedAt)
	}
	return nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByTokenFn    func(ctx context.Context, token string) (*model.Session, error)
	deleteByTokenFn  func(ctx context.Context, token string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	if m.findByTokenFn != nil {
		return m.findByTokenFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	if m.deleteByTokenFn != nil {
		return m.deleteByTokenFn(ctx, token)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

type mockResolverMetrics struct {
	outcomes []string
}

func (m *mockResolverMetrics) RecordAuthOutcome(outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.TenantRepository = (*mockTenantRepo)(nil)
var _ repository.TenantAccessRepository = (*mockAccessRepo)(nil)
var _ repository.InviteRepository = (*mockInviteRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ ResolverMetrics = (*mockResolverMetrics)(nil)
