// Package auth は要求の認証ゲート、OAuthログイン、セッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/repository"
)

// ErrNotProvisioned はアカウントも有効な招待も無いメールアドレスでログインした場合のエラー。
var ErrNotProvisioned = errors.New("no account or pending invite for this email")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードを交換し、検証済みのユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ClientMeta はセッション発行時に記録する接続元の情報。
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はログインとセッションのライフサイクルを扱う。
type Service struct {
	oauth       OAuthProvider
	resolver    *Resolver
	userRepo    repository.UserRepository
	inviteRepo  repository.InviteRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
// セッションの有効性判定はresolverと共有する。
func NewService(
	oauth OAuthProvider,
	resolver *Resolver,
	userRepo repository.UserRepository,
	inviteRepo repository.InviteRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		resolver:    resolver,
		userRepo:    userRepo,
		inviteRepo:  inviteRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         resolver.now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、新しいセッションを発行する。
// 既存ユーザーはメールアドレスで特定する。未登録のメールアドレスは有効な招待がある場合のみ
// ユーザーを作成し、招待先テナントへのアクセス権を付与する。
// inviteIDはstateに載っていた招待ID（無い場合は空文字）。
func (s *Service) HandleCallback(ctx context.Context, code, inviteID string, meta ClientMeta) (*model.Session, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	email := strings.ToLower(strings.TrimSpace(info.Email))

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	invite, err := s.pendingInvite(ctx, email, inviteID)
	if err != nil {
		return nil, err
	}

	switch {
	case user == nil && invite == nil:
		slog.Warn("login rejected for unprovisioned email", slog.String("email", email))
		return nil, ErrNotProvisioned

	case user == nil:
		user, err = s.createFromInvite(ctx, info, email, invite)
		if err != nil {
			return nil, err
		}

	case invite != nil:
		// 既存ユーザーが別テナントの招待を受けた場合はアクセス権を追加する
		if err := s.inviteRepo.Accept(ctx, invite.ID, newAccess(user.ID, invite, s.now()), s.now()); err != nil {
			return nil, fmt.Errorf("failed to accept invite: %w", err)
		}
		slog.Info("invite accepted by existing user",
			slog.String("user_id", user.ID),
			slog.String("tenant_id", invite.TenantID),
		)
	}

	session, err := s.createSession(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return session, nil
}

// pendingInvite は明示的な招待IDを優先し、無ければメールアドレス宛の有効な招待を探す。
// 招待IDが別のメールアドレス宛、承諾済み、期限切れの場合は無視する。
func (s *Service) pendingInvite(ctx context.Context, email, inviteID string) (*model.Invite, error) {
	now := s.now()
	if inviteID != "" {
		invite, err := s.inviteRepo.FindByID(ctx, inviteID)
		if err != nil {
			return nil, fmt.Errorf("failed to find invite: %w", err)
		}
		if invite != nil && strings.EqualFold(invite.Email, email) && invite.IsPendingAt(now) {
			return invite, nil
		}
		slog.Warn("ignoring unusable invite", slog.String("invite_id", inviteID))
	}

	invite, err := s.inviteRepo.FindPendingByEmail(ctx, email, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invite: %w", err)
	}
	return invite, nil
}

func (s *Service) createFromInvite(ctx context.Context, info *OAuthUserInfo, email string, invite *model.Invite) (*model.User, error) {
	now := s.now()
	tenantID := invite.TenantID
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      info.Name,
		TenantID:  &tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.userRepo.CreateFromInvite(ctx, user, newAccess(user.ID, invite, now), invite.ID, now)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同時ログインで先に作成された場合はそのユーザーを使う
		existing, findErr := s.userRepo.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, fmt.Errorf("failed to find user after duplicate: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("user vanished after duplicate insert: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user from invite: %w", err)
	}

	slog.Info("new user created from invite",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", tenantID),
		slog.String("role", invite.Role),
	)
	return user, nil
}

func newAccess(userID string, invite *model.Invite, now time.Time) *model.TenantAccess {
	return &model.TenantAccess{
		ID:        uuid.New().String(),
		UserID:    userID,
		TenantID:  invite.TenantID,
		Role:      invite.Role,
		CreatedAt: now,
	}
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoCredential
	}

	if err := s.sessionRepo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// 無効なセッションはResolverと同じDeniedErrorを返す。
func (s *Service) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	_, user, err := s.resolver.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// createSession は新しいセッションを作成し永続化する。既存のセッションは延長しない。
func (s *Service) createSession(ctx context.Context, user *model.User, meta ClientMeta) (*model.Session, error) {
	token, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Token:     token,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}
