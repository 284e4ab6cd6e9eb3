package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DStukalo/children-server/internal/model"
)

// PostgresCallbackRepo はゲートウェイ通知ログをpayment_callbacksに保存する。
type PostgresCallbackRepo struct {
	db *sql.DB
}

// NewPostgresCallbackRepo はPostgresCallbackRepoを生成する。
func NewPostgresCallbackRepo(db *sql.DB) *PostgresCallbackRepo {
	return &PostgresCallbackRepo{db: db}
}

// Create は通知1件を記録する。Payloadが空の場合は空オブジェクトとして保存する。
func (r *PostgresCallbackRepo) Create(ctx context.Context, rec *model.CallbackRecord) error {
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var resultStatus *string
	if rec.ResultStatus != nil {
		s := string(*rec.ResultStatus)
		resultStatus = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_callbacks (id, order_num, transaction_id, reported_status, payload,
		                                signature_valid, matched, result_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.OrderNum, rec.TransactionID, rec.ReportedStatus, string(payload),
		rec.SignatureValid, rec.Matched, resultStatus, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment callback: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CallbackRepository = (*PostgresCallbackRepo)(nil)
