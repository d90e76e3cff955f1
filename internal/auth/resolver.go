package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/repository"
)

// RoleSuperAdmin はテナントアクセス権を持たない運営者がバイパスで認可されたときのロール。
const RoleSuperAdmin = "super_admin"

// DeniedKind は認証ゲートでの拒否の種類。
type DeniedKind int

const (
	// KindUnauthenticated はセッションが無い・無効・期限切れ、またはユーザーが存在しない。
	KindUnauthenticated DeniedKind = iota + 1
	// KindMissingContext はテナントが指定されていない、または存在しない。
	KindMissingContext
	// KindUnauthorized はテナントへのアクセス権が無い。
	KindUnauthorized
)

func (k DeniedKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindMissingContext:
		return "missing_context"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// DeniedError は認証ゲートが要求を拒否したことを表す。
// ストアの障害はDeniedErrorにならない。
type DeniedError struct {
	Kind   DeniedKind
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied (%s): %s", e.Kind, e.Reason)
}

// 拒否理由ごとのセンチネル。errors.Isで比較する。
var (
	ErrNoCredential    = &DeniedError{Kind: KindUnauthenticated, Reason: "no session credential"}
	ErrInvalidSession  = &DeniedError{Kind: KindUnauthenticated, Reason: "session not found or expired"}
	ErrUserNotFound    = &DeniedError{Kind: KindUnauthenticated, Reason: "session user no longer exists"}
	ErrNoTenantContext = &DeniedError{Kind: KindMissingContext, Reason: "no tenant specified"}
	ErrUnknownTenant   = &DeniedError{Kind: KindMissingContext, Reason: "tenant not found"}
	ErrNoAccess        = &DeniedError{Kind: KindUnauthorized, Reason: "no access to tenant"}
)

// KindOf はerrがDeniedErrorであればその種類を返す。
func KindOf(err error) (DeniedKind, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Kind, true
	}
	return 0, false
}

// AuthResult は認証ゲートを通過した要求の主体とテナント。
type AuthResult struct {
	User      *model.User
	Tenant    *model.Tenant
	TenantID  string
	SessionID string
	Role      string
}

// ResolverMetrics は認証ゲートのメトリクス記録インターフェース。
type ResolverMetrics interface {
	RecordAuthOutcome(outcome string)
}

// ResolverOption はResolverのオプション。
type ResolverOption func(*Resolver)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithResolverMetrics はメトリクスの記録先を指定する。
func WithResolverMetrics(m ResolverMetrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// Resolver はセッショントークンとテナント指定から要求の主体と認可を解決する。
// すべてのAPI経路はこのResolverを経由する。
type Resolver struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	tenants  repository.TenantRepository
	access   repository.TenantAccessRepository
	now      func() time.Time
	metrics  ResolverMetrics
	tracer   trace.Tracer
}

// NewResolver はResolverを生成する。
func NewResolver(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	tenants repository.TenantRepository,
	access repository.TenantAccessRepository,
	opts ...ResolverOption,
) *Resolver {
	r := &Resolver{
		sessions: sessions,
		users:    users,
		tenants:  tenants,
		access:   access,
		now:      time.Now,
		tracer:   otel.Tracer("github.com/hitoshi/keihi/internal/auth"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ValidateSession はトークンに対応する有効なセッションとそのユーザーを返す。
// テナントを必要としない経路（ログイン中ユーザーの取得、退会）で使用する。
func (r *Resolver) ValidateSession(ctx context.Context, token string) (*model.Session, *model.User, error) {
	if token == "" {
		return nil, nil, ErrNoCredential
	}

	session, err := r.sessions.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.IsValidAt(r.now()) {
		return nil, nil, ErrInvalidSession
	}

	user, err := r.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	return session, user, nil
}

// Authenticate はセッショントークンとテナントのサブドメインから要求を認可する。
// 判定は次の順に行い、最初に該当したもので終了する。
//  1. トークンなし
//  2. セッションなし・期限切れ
//  3. ユーザーなし
//  4. テナント指定なし
//  5. テナントなし
//  6. アクセス権なし（スーパー管理者を除く）
func (r *Resolver) Authenticate(ctx context.Context, token, tenantIdentifier string) (*AuthResult, error) {
	ctx, span := r.tracer.Start(ctx, "auth.Authenticate",
		trace.WithAttributes(attribute.String("keihi.tenant", tenantIdentifier)),
	)
	defer span.End()

	result, err := r.authenticate(ctx, token, tenantIdentifier)

	outcome := "ok"
	if err != nil {
		if kind, ok := KindOf(err); ok {
			outcome = kind.String()
		} else {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "store failure")
		}
	}
	span.SetAttributes(attribute.String("keihi.auth.outcome", outcome))
	if r.metrics != nil {
		r.metrics.RecordAuthOutcome(outcome)
	}

	return result, err
}

func (r *Resolver) authenticate(ctx context.Context, token, tenantIdentifier string) (*AuthResult, error) {
	session, user, err := r.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}

	tenantIdentifier = strings.TrimSpace(tenantIdentifier)
	if tenantIdentifier == "" {
		return nil, ErrNoTenantContext
	}

	tenant, err := r.tenants.FindBySubdomain(ctx, tenantIdentifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant: %w", err)
	}
	if tenant == nil {
		return nil, ErrUnknownTenant
	}

	access, err := r.access.Find(ctx, user.ID, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant access: %w", err)
	}

	var role string
	switch {
	case access != nil:
		role = access.Role
	case user.IsSuperAdmin:
		role = RoleSuperAdmin
	default:
		return nil, ErrNoAccess
	}

	return &AuthResult{
		User:      user,
		Tenant:    tenant,
		TenantID:  tenant.ID,
		SessionID: session.ID,
		Role:      role,
	}, nil
}
