// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/DStukalo/children-server/internal/model"
)

// ErrDuplicate は一意制約違反（email、order_id）を表す。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateFields は指定フィールドのみを更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。
	UpdateFields(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// PaymentRepository は決済セッションの永続化インターフェース。
// 内部IDと外部注文番号（order_id）の両方で参照できる。
type PaymentRepository interface {
	// Create は決済セッションを作成する。order_idが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, payment *model.Payment) error

	// FindByID は指定IDの決済を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Payment, error)

	// FindByOrderID は注文番号で決済を取得する。見つからない場合はnilを返す。
	FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error)

	// SetStatusByID はpendingの決済を終端状態へ遷移させる。
	// 戻り値のboolは今回の呼び出しで遷移したかどうか。
	// 既に終端状態の場合は現在のレコードをそのまま返す。見つからない場合はnilを返す。
	SetStatusByID(ctx context.Context, id string, status model.PaymentStatus) (*model.Payment, bool, error)

	// SetStatusByOrderID は注文番号指定でSetStatusByIDと同じ遷移を行う。
	SetStatusByOrderID(ctx context.Context, orderID string, status model.PaymentStatus) (*model.Payment, bool, error)
}

// CallbackRepository はゲートウェイ通知ログの永続化インターフェース。
type CallbackRepository interface {
	// Create は通知1件を記録する。
	Create(ctx context.Context, record *model.CallbackRecord) error
}
