package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/DStukalo/children-server/internal/model"
)

const userColumns = `id, email, password_hash, user_name, avatar, open_categories, purchased_stages, created_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。
// open_categories、purchased_stagesがnilの場合は空配列として保存する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, user_name, avatar, open_categories, purchased_stages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		user.ID, user.Email, user.PasswordHash, user.UserName, user.Avatar,
		pq.Int64Array(nonNil(user.OpenCategories)), pq.Int64Array(nonNil(user.PurchasedStages)),
		user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateFields は指定されたフィールドのみを更新する。
// 更新対象が空の場合は現在の値をそのまま返す。
func (r *PostgresUserRepo) UpdateFields(ctx context.Context, id string, update model.UserUpdate) (*model.User, error) {
	if update.IsEmpty() {
		return r.FindByID(ctx, id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	switch {
	case update.ClearUserName:
		add("user_name", nil)
	case update.UserName != nil:
		add("user_name", *update.UserName)
	}
	switch {
	case update.ClearAvatar:
		add("avatar", nil)
	case update.Avatar != nil:
		add("avatar", *update.Avatar)
	}
	if update.OpenCategories != nil {
		add("open_categories", pq.Int64Array(update.OpenCategories))
	}
	if update.PurchasedStages != nil {
		add("purchased_stages", pq.Int64Array(update.PurchasedStages))
	}

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE users SET %s, updated_at = now() WHERE id = $%d RETURNING `+userColumns,
		strings.Join(sets, ", "), len(args),
	)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var userName, avatar sql.NullString
	var openCategories, purchasedStages pq.Int64Array

	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &userName, &avatar,
		&openCategories, &purchasedStages, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userName.Valid {
		user.UserName = &userName.String
	}
	if avatar.Valid {
		user.Avatar = &avatar.String
	}
	user.OpenCategories = nonNil(openCategories)
	user.PurchasedStages = nonNil(purchasedStages)

	return user, nil
}

func nonNil(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
