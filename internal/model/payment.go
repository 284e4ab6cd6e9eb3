package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus は決済セッションの状態を表す。
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// IsTerminal は終端状態（success / failed）かどうかを返す。
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

// CanTransitionTo は現在の状態からnextへ遷移できるかを返す。
// 遷移はpending→success、pending→failedのみ。
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.IsTerminal()
}

// Payment はゲートウェイ決済1件分のセッションを表す。
// Seed、TestFlag、Signatureは作成時に計算して保存し、フォーム描画時に再計算しない。
type Payment struct {
	ID          string
	OrderID     string
	UserID      *string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Status      PaymentStatus
	CourseID    *int64
	StageID     *int64
	Seed        string
	TestFlag    string
	Signature   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CallbackRecord はゲートウェイから受信した通知1件の記録。
type CallbackRecord struct {
	ID             string
	OrderNum       string
	TransactionID  string
	ReportedStatus string
	Payload        json.RawMessage
	SignatureValid bool
	Matched        bool
	ResultStatus   *PaymentStatus
	CreatedAt      time.Time
}
