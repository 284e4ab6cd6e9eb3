// Package events は決済状態の変化を外部へ通知するイベント発行を提供する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DStukalo/children-server/internal/model"
)

// EventTypeStatusChanged は状態遷移イベントの種別。
const EventTypeStatusChanged = "payment.status_changed"

// PaymentEvent は状態遷移1件分のイベント。
type PaymentEvent struct {
	Type       string    `json:"type"`
	PaymentID  string    `json:"paymentId"`
	OrderID    string    `json:"orderId"`
	UserID     *string   `json:"userId"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewStatusChangedEvent は遷移後の決済からイベントを組み立てる。
func NewStatusChangedEvent(p *model.Payment, occurredAt time.Time) PaymentEvent {
	return PaymentEvent{
		Type:       EventTypeStatusChanged,
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		UserID:     p.UserID,
		Status:     string(p.Status),
		Amount:     p.Amount.StringFixed(2),
		Currency:   p.Currency,
		OccurredAt: occurredAt.UTC(),
	}
}

// Publisher は決済イベント発行のインターフェース。
type Publisher interface {
	PublishPaymentEvent(ctx context.Context, event PaymentEvent) error
	Close() error
}

// messageWriter はkafka.Writerのうち使用するメソッドのみを抽象化する。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher はKafkaトピックへイベントを発行する。
// 同一注文のイベントが同じパーティションに入るよう、キーは注文番号とする。
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher はKafkaPublisherを生成する。
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// PublishPaymentEvent はイベントをJSONで発行する。
func (k *KafkaPublisher) PublishPaymentEvent(ctx context.Context, event PaymentEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode payment event: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: value,
		Time:  event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish payment event: %w", err)
	}
	return nil
}

// Close はwriterを閉じ、未送信のメッセージをフラッシュする。
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher は何も発行しないPublisher。KAFKA_BROKERS未設定時に使う。
type NopPublisher struct{}

func (NopPublisher) PublishPaymentEvent(context.Context, PaymentEvent) error { return nil }
func (NopPublisher) Close() error { return nil }

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NopPublisher{}
)
