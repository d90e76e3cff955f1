package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidState はOAuthのstateパラメータが不正・期限切れ・Cookieと不一致の場合のエラー。
var ErrInvalidState = errors.New("invalid oauth state")

// LoginState はOAuthのstateに載せるログイン要求の情報。
type LoginState struct {
	Nonce    string // stateCookieにも保存し、コールバックで突き合わせる
	InviteID string // 招待リンク経由の場合のみ
}

type stateClaims struct {
	Nonce    string `json:"nonce"`
	InviteID string `json:"inv,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec はLoginStateをHS256署名付きJWTとして発行・検証する。
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec はStateCodecを生成する。secretにはSESSION_SECRETを使用する。
func NewStateCodec(secret string, ttl time.Duration) *StateCodec {
	return &StateCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue は新しいnonceを持つstateを発行し、署名済みトークンとnonceを返す。
func (c *StateCodec) Issue(inviteID string) (token string, nonce string, err error) {
	nonce, err = randomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := c.now()
	claims := stateClaims{
		Nonce:    nonce,
		InviteID: inviteID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "keihi",
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return token, nonce, nil
}

// Verify はstateトークンの署名・期限を検証し、Cookieのnonceと一致する場合にLoginStateを返す。
func (c *StateCodec) Verify(token, cookieNonce string) (*LoginState, error) {
	if token == "" || cookieNonce == "" {
		return nil, ErrInvalidState
	}

	claims := &stateClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer("keihi"),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(cookieNonce)) != 1 {
		return nil, ErrInvalidState
	}

	return &LoginState{Nonce: claims.Nonce, InviteID: claims.InviteID}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
