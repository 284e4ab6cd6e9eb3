package model

import "time"

// User はサービス利用ユーザーを表す。
// OpenCategoriesとPurchasedStagesは解放済みコンテンツの番号集合。
// 順序は意味を持たず、重複も許容する。
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	UserName        *string
	Avatar          *string
	OpenCategories  []int64
	PurchasedStages []int64
	CreatedAt       time.Time
}

// UserUpdate はプロフィール更新の差分を表す。
// nilのフィールドは変更しない。UserName/Avatarをnullにする場合はClear*を使う。
type UserUpdate struct {
	UserName        *string
	ClearUserName   bool
	Avatar          *string
	ClearAvatar     bool
	OpenCategories  []int64
	PurchasedStages []int64
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u UserUpdate) IsEmpty() bool {
	return u.UserName == nil && !u.ClearUserName &&
		u.Avatar == nil && !u.ClearAvatar &&
		u.OpenCategories == nil && u.PurchasedStages == nil
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
