// Package auth は認証情報の検証、Bearerトークンの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/DStukalo/children-server/internal/model"
)

// maxEmailLength はusers.emailの列長。
const maxEmailLength = 255

// AccountStore は認証に必要なユーザー操作のインターフェース。
// user.Serviceが実装する。
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, email, passwordHash string) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BcryptCost int // 0の場合はbcrypt.DefaultCost
}

// Result は登録、ログインの結果。
type Result struct {
	Token string
	User  *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts AccountStore
	tokens   TokenManager
	cost     int
}

// NewService はServiceを生成する。
func NewService(accounts AccountStore, tokens TokenManager, config ServiceConfig) *Service {
	cost := config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		cost:     cost,
	}
}

// Register はアカウントを作成し、トークンを発行する。
// メールアドレスが登録済みの場合はUserExistsを返す。
func (s *Service) Register(ctx context.Context, email, password string) (*Result, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return nil, err
	}

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewUserExistsError()
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}

	user, err := s.accounts.Create(ctx, email, hash)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	slog.Info("ユーザーが登録されました", slog.String("user_id", user.ID))
	return &Result{Token: token, User: user}, nil
}

// Login は認証情報を検証し、トークンを発行する。
// ユーザーが存在しない場合とパスワード不一致は区別せずInvalidCredentialsを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return nil, err
	}

	user, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !CheckPassword(user.PasswordHash, password) {
		slog.Warn("ログインに失敗しました")
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	slog.Info("ユーザーがログインしました", slog.String("user_id", user.ID))
	return &Result{Token: token, User: user}, nil
}

// Logout はトークンを失効させる。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return model.NewUnauthorizedError("Missing auth header")
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return fmt.Errorf("トークンの失効に失敗しました: %w", err)
	}
	return nil
}

// Authenticate はトークンを検証してユーザーIDを返す。
// 無効なトークンはUnauthorized、保存層の障害はラップしたエラーを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Authenticate(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return "", model.NewUnauthorizedError("Invalid token")
	}
	if err != nil {
		return "", fmt.Errorf("トークンの検証に失敗しました: %w", err)
	}
	return userID, nil
}

// validateCredentials は正規化したメールアドレスを返す。
func validateCredentials(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", model.NewInvalidRequestError("Email + password required")
	}
	if len(email) > maxEmailLength {
		return "", model.NewInvalidRequestError("Email is too long")
	}
	if len(password) > maxPasswordBytes {
		return "", model.NewInvalidRequestError("Password is too long")
	}
	return email, nil
}
