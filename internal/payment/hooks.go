// Package payment は決済セッションのライフサイクル（作成、フォーム生成、状態照会）と
// ゲートウェイ通知による状態の突き合わせを提供する。
package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/DStukalo/children-server/internal/cache"
	"github.com/DStukalo/children-server/internal/events"
	"github.com/DStukalo/children-server/internal/metrics"
	"github.com/DStukalo/children-server/internal/model"
)

// GatewayConfig はWebPayの接続設定。
type GatewayConfig struct {
	StoreID   string
	SecretKey string
	// GatewayURL はフォームの送信先のベースURL（末尾スラッシュなし）。
	GatewayURL string
	// Sandbox がtrueの場合、wsb_testに"1"を設定する。
	Sandbox bool
	// VerifyCallback がtrueの場合、通知のwsb_signatureを検証する。
	VerifyCallback bool
}

// Configured はストアIDと秘密鍵が設定済みかを返す。
func (c GatewayConfig) Configured() bool {
	return c.StoreID != "" && c.SecretKey != ""
}

// TestFlag はwsb_testの値を返す。
func (c GatewayConfig) TestFlag() string {
	if c.Sandbox {
		return "1"
	}
	return "0"
}

// Hooks は状態遷移後に実行する副作用の依存。nilのフィールドは何もしない実装で補う。
type Hooks struct {
	Cache     cache.StatusCache
	Publisher events.Publisher
	Metrics   metrics.MetricsCollector
}

func (h Hooks) withDefaults() Hooks {
	if h.Cache == nil {
		h.Cache = cache.NopStatusCache{}
	}
	if h.Publisher == nil {
		h.Publisher = events.NopPublisher{}
	}
	if h.Metrics == nil {
		h.Metrics = metrics.NopCollector{}
	}
	return h
}

// afterTransition は実際に遷移が起きた決済について、メトリクス記録、
// キャッシュ破棄、イベント発行を行う。いずれの失敗もログのみで遷移結果には影響しない。
func (h Hooks) afterTransition(ctx context.Context, p *model.Payment, at time.Time) {
	h.Metrics.RecordTransition(string(p.Status))

	if err := h.Cache.Delete(ctx, p.ID); err != nil {
		slog.Warn("決済状態キャッシュの破棄に失敗しました",
			slog.String("payment_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := h.Publisher.PublishPaymentEvent(ctx, events.NewStatusChangedEvent(p, at)); err != nil {
		slog.Error("決済イベントの発行に失敗しました",
			slog.String("payment_id", p.ID),
			slog.String("order_id", p.OrderID),
			slog.String("status", string(p.Status)),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("決済状態が遷移しました",
		slog.String("payment_id", p.ID),
		slog.String("order_id", p.OrderID),
		slog.String("status", string(p.Status)),
	)
}
