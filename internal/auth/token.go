package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/repository"
)

// ErrInvalidToken はトークンが存在しない、期限切れ、または改ざんされていることを表す。
var ErrInvalidToken = errors.New("invalid token")

// TokenManager はBearerトークンの発行と検証を行う。
type TokenManager interface {
	// Issue はユーザーIDに対する新しいトークンを発行する。
	Issue(ctx context.Context, userID string) (string, error)
	// Authenticate はトークンからユーザーIDを取得する。無効な場合はErrInvalidTokenを返す。
	Authenticate(ctx context.Context, token string) (string, error)
	// Revoke はトークンを失効させる。
	Revoke(ctx context.Context, token string) error
}

// SessionTokens はsessionsテーブルに保存する不透明トークン。
type SessionTokens struct {
	sessionRepo repository.SessionRepository
	maxAge      time.Duration
	now         func() time.Time
}

// NewSessionTokens はSessionTokensを生成する。
func NewSessionTokens(sessionRepo repository.SessionRepository, maxAge time.Duration) *SessionTokens {
	return &SessionTokens{
		sessionRepo: sessionRepo,
		maxAge:      maxAge,
		now:         time.Now,
	}
}

// Issue はセッションを作成し永続化する。
func (t *SessionTokens) Issue(ctx context.Context, userID string) (string, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := t.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(t.maxAge),
		CreatedAt: now,
	}
	if err := t.sessionRepo.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return sessionID, nil
}

// Authenticate は有効なセッションのユーザーIDを返す。
func (t *SessionTokens) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	session, err := t.sessionRepo.FindByID(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.ExpiresAt.After(t.now()) {
		return "", ErrInvalidToken
	}
	return session.UserID, nil
}

// Revoke はセッションを削除する。
func (t *SessionTokens) Revoke(ctx context.Context, token string) error {
	if err := t.sessionRepo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// JWTTokens はHS256で署名したステートレスなトークン。
// サーバー側に状態を持たないため、Revokeは何もしない。
type JWTTokens struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewJWTTokens はJWTTokensを生成する。
func NewJWTTokens(secret string, maxAge time.Duration) *JWTTokens {
	return &JWTTokens{
		secret: []byte(secret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Issue はsubにユーザーIDを持つトークンを発行する。
func (t *JWTTokens) Issue(_ context.Context, userID string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.maxAge)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate は署名と有効期限を検証し、subを返す。
func (t *JWTTokens) Authenticate(_ context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Revoke は何もしない。
func (t *JWTTokens) Revoke(context.Context, string) error {
	return nil
}
