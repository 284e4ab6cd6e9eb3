package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/DStukalo/children-server/internal/model"
)

const paymentColumns = `id, order_id, user_id, amount, currency, description, status,
	course_id, stage_id, wsb_seed, wsb_test, wsb_signature, created_at, updated_at`

// PostgresPaymentRepo はPostgreSQLを使用した決済リポジトリ。
// 状態遷移は条件付きUPDATE 1文で行い、レコード単位で原子的に適用される。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

// Create は決済セッションを作成する。
func (r *PostgresPaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (id, order_id, user_id, amount, currency, description, status,
		                       course_id, stage_id, wsb_seed, wsb_test, wsb_signature, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OrderID, p.UserID, p.Amount, p.Currency, p.Description, string(p.Status),
		p.CourseID, p.StageID, p.Seed, p.TestFlag, p.Signature, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// FindByID は指定IDの決済を取得する。見つからない場合はnilを返す。
// UUID形式でないIDは存在しないものとして扱う。
func (r *PostgresPaymentRepo) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment by ID: %w", err)
	}
	return p, nil
}

// FindByOrderID は注文番号で決済を取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`,
		orderID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment by order ID: %w", err)
	}
	return p, nil
}

// SetStatusByID はpendingの決済を終端状態へ遷移させる。
func (r *PostgresPaymentRepo) SetStatusByID(ctx context.Context, id string, status model.PaymentStatus) (*model.Payment, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, nil
	}
	return r.setStatus(ctx, "id", id, status, r.FindByID)
}

// SetStatusByOrderID は注文番号指定でpendingの決済を終端状態へ遷移させる。
func (r *PostgresPaymentRepo) SetStatusByOrderID(ctx context.Context, orderID string, status model.PaymentStatus) (*model.Payment, bool, error) {
	return r.setStatus(ctx, "order_id", orderID, status, r.FindByOrderID)
}

// setStatus は WHERE status = 'pending' 付きのUPDATEで遷移を適用する。
// 更新行がない場合は既に終端状態か存在しないため、現在のレコードを読み直して返す。
func (r *PostgresPaymentRepo) setStatus(
	ctx context.Context,
	keyColumn, key string,
	status model.PaymentStatus,
	find func(context.Context, string) (*model.Payment, error),
) (*model.Payment, bool, error) {
	if !model.PaymentStatusPending.CanTransitionTo(status) {
		return nil, false, fmt.Errorf("invalid target status: %q", status)
	}

	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`UPDATE payments SET status = $1, updated_at = now()
		 WHERE `+keyColumn+` = $2 AND status = 'pending'
		 RETURNING `+paymentColumns,
		string(status), key,
	))
	if err == nil {
		return p, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to update payment status: %w", err)
	}

	current, err := find(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func scanPayment(row *sql.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var userID sql.NullString
	var courseID, stageID sql.NullInt64
	var status string

	err := row.Scan(
		&p.ID, &p.OrderID, &userID, &p.Amount, &p.Currency, &p.Description, &status,
		&courseID, &stageID, &p.Seed, &p.TestFlag, &p.Signature, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = model.PaymentStatus(status)
	if userID.Valid {
		p.UserID = &userID.String
	}
	if courseID.Valid {
		p.CourseID = &courseID.Int64
	}
	if stageID.Valid {
		p.StageID = &stageID.Int64
	}
	return p, nil
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
