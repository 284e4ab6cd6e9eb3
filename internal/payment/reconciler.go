package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DStukalo/children-server/internal/metrics"
	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/repository"
	"github.com/DStukalo/children-server/internal/webpay"
)

// CallbackResult はゲートウェイ通知1件の処理結果。
type CallbackResult struct {
	// Matched は注文番号に対応する決済が存在したかどうか。
	Matched bool
	// Changed は今回の通知で状態遷移が起きたかどうか。
	Changed bool
	// Status は処理後の決済状態。Matchedがfalseの場合は空。
	Status model.PaymentStatus
}

// Reconciler はゲートウェイからの非同期通知を決済状態に反映する。
type Reconciler struct {
	payments  repository.PaymentRepository
	callbacks repository.CallbackRepository
	cfg       GatewayConfig
	signer    *webpay.Signer
	hooks     Hooks
	now       func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	payments repository.PaymentRepository,
	callbacks repository.CallbackRepository,
	cfg GatewayConfig,
	hooks Hooks,
) *Reconciler {
	return &Reconciler{
		payments:  payments,
		callbacks: callbacks,
		cfg:       cfg,
		signer:    webpay.NewSigner(cfg.SecretKey),
		hooks:     hooks.withDefaults(),
		now:       time.Now,
	}
}

// HandleCallback は通知を検証し、注文番号の決済へ状態遷移を適用する。
//
// 注文番号がない場合はInvalidRequest、署名検証が有効で署名が一致しない場合は
// InvalidSignatureを返す。対応する決済がない通知はログに残して正常終了とし、
// ゲートウェイの再送を止める。既に終端状態の決済は変更しない。
func (r *Reconciler) HandleCallback(ctx context.Context, n webpay.Notification) (*CallbackResult, error) {
	start := r.now()
	defer func() {
		r.hooks.Metrics.RecordCallbackLatency(time.Since(start))
	}()

	// 状態遷移はクライアントの切断に関係なく最後まで実行する
	ctx = context.WithoutCancel(ctx)

	rec := &model.CallbackRecord{
		ID:             uuid.New().String(),
		OrderNum:       n.OrderNum,
		TransactionID:  n.TransactionID,
		ReportedStatus: n.Status,
		Payload:        encodePayload(n.Raw),
		SignatureValid: !r.cfg.VerifyCallback,
		CreatedAt:      start,
	}

	if n.OrderNum == "" {
		r.hooks.Metrics.RecordCallback(metrics.CallbackInvalidRequest)
		r.record(ctx, rec)
		return nil, model.NewInvalidRequestError("Missing order number")
	}

	if r.cfg.VerifyCallback {
		rec.SignatureValid = r.signer.Verify(webpay.CallbackSignatureFields, n.SignedValues(), n.Signature)
		if !rec.SignatureValid {
			r.hooks.Metrics.RecordSignatureFailure()
			r.hooks.Metrics.RecordCallback(metrics.CallbackInvalidSignature)
			r.record(ctx, rec)
			slog.Warn("署名が一致しないゲートウェイ通知を拒否しました",
				slog.String("order_id", n.OrderNum),
				slog.String("transaction_id", n.TransactionID),
			)
			return nil, model.NewInvalidSignatureError()
		}
	}

	outcome := webpay.MapOutcome(n.Status)
	p, changed, err := r.payments.SetStatusByOrderID(ctx, n.OrderNum, outcome)
	if err != nil {
		r.hooks.Metrics.RecordCallback(metrics.CallbackError)
		r.record(ctx, rec)
		return nil, fmt.Errorf("通知による決済状態の更新に失敗しました: %w", err)
	}

	if p == nil {
		r.hooks.Metrics.RecordCallback(metrics.CallbackUnmatched)
		r.record(ctx, rec)
		slog.Warn("対応する決済のないゲートウェイ通知を受信しました",
			slog.String("order_id", n.OrderNum),
			slog.String("transaction_id", n.TransactionID),
			slog.String("reported_status", n.Status),
		)
		return &CallbackResult{}, nil
	}

	rec.Matched = true
	status := p.Status
	rec.ResultStatus = &status
	r.record(ctx, rec)

	if changed {
		r.hooks.Metrics.RecordCallback(metrics.CallbackApplied)
		r.hooks.afterTransition(ctx, p, r.now())
	} else {
		r.hooks.Metrics.RecordCallback(metrics.CallbackAlreadyFinal)
		slog.Info("終端状態の決済への通知を無視しました",
			slog.String("payment_id", p.ID),
			slog.String("order_id", p.OrderID),
			slog.String("status", string(p.Status)),
			slog.String("reported_status", n.Status),
		)
	}

	return &CallbackResult{Matched: true, Changed: changed, Status: p.Status}, nil
}

// record は通知ログを保存する。失敗してもゲートウェイへの応答は変えない。
func (r *Reconciler) record(ctx context.Context, rec *model.CallbackRecord) {
	if r.callbacks == nil {
		return
	}
	if err := r.callbacks.Create(ctx, rec); err != nil {
		slog.Error("ゲートウェイ通知の記録に失敗しました",
			slog.String("order_id", rec.OrderNum),
			slog.String("error", err.Error()),
		)
	}
}

func encodePayload(raw map[string]string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
