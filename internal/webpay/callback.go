package webpay

import (
	"strings"

	"github.com/DStukalo/children-server/internal/model"
)

// Notification はゲートウェイからの非同期通知。
type Notification struct {
	OrderNum      string
	TransactionID string
	Status        string
	Signature     string
	// Raw は受信した全フィールド。通知ログに保存する。
	Raw map[string]string
}

// NotificationFromValues は受信フィールドからNotificationを組み立てる。
func NotificationFromValues(values map[string]string) Notification {
	return Notification{
		OrderNum:      strings.TrimSpace(values["wsb_order_num"]),
		TransactionID: values["wsb_tid"],
		Status:        values["wsb_status"],
		Signature:     values["wsb_signature"],
		Raw:           values,
	}
}

// SignedValues は通知署名の検証対象値を返す。
func (n Notification) SignedValues() map[string]string {
	return map[string]string{
		"wsb_order_num": n.OrderNum,
		"wsb_tid":       n.TransactionID,
		"wsb_status":    n.Status,
	}
}

// successStatuses はsuccessとして扱うゲートウェイの結果値。
var successStatuses = map[string]bool{
	"success":  true,
	"approved": true,
}

// MapOutcome はゲートウェイの結果値を決済状態に変換する。
// 成功を示す値以外（空、未知の値を含む）はすべてfailedとする。
func MapOutcome(status string) model.PaymentStatus {
	if successStatuses[strings.ToLower(strings.TrimSpace(status))] {
		return model.PaymentStatusSuccess
	}
	return model.PaymentStatusFailed
}
