// Package user はユーザーアカウントのドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/repository"
	"github.com/DStukalo/children-server/internal/security"
)

const (
	// DefaultUserName は登録直後の表示名。
	DefaultUserName = "John Doe"
	// DefaultAvatar は登録直後のアバター画像URL。
	DefaultAvatar = "https://cdn-icons-png.flaticon.com/512/3135/3135715.png"
	// MaxUserNameLength は表示名の最大文字数。
	MaxUserNameLength = 255
	// MaxAvatarLength はアバターURLの最大文字数。
	MaxAvatarLength = 2048
)

// Service はユーザーアカウントのサービス層。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はUserNotFoundを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// Create は既定の表示名とアバター、空の解放済み集合でユーザーを作成する。
// passwordHashはハッシュ化済みの値を受け取る。
func (s *Service) Create(ctx context.Context, email, passwordHash string) (*model.User, error) {
	name := DefaultUserName
	avatar := DefaultAvatar
	u := &model.User{
		ID:              uuid.New().String(),
		Email:           email,
		PasswordHash:    passwordHash,
		UserName:        &name,
		Avatar:          &avatar,
		OpenCategories:  []int64{},
		PurchasedStages: []int64{},
		CreatedAt:       time.Now(),
	}

	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUserExistsError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", u.ID),
	)
	return u, nil
}

// UpdateFields はプロフィールの指定フィールドのみを更新する。
// 表示名はタグを除去して保存する。更新対象がない場合はInvalidRequestを返す。
func (s *Service) UpdateFields(ctx context.Context, id string, update model.UserUpdate) (*model.User, error) {
	if update.IsEmpty() {
		return nil, model.NewInvalidRequestError("No updateable fields provided")
	}

	if update.UserName != nil {
		name := s.sanitizer.Clean(*update.UserName, MaxUserNameLength)
		update.UserName = &name
	}
	if update.Avatar != nil {
		avatar := strings.TrimSpace(*update.Avatar)
		if len(avatar) > MaxAvatarLength {
			return nil, model.NewInvalidRequestError("avatar is too long")
		}
		update.Avatar = &avatar
	}

	u, err := s.userRepo.UpdateFields(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", id),
	)
	return u, nil
}
