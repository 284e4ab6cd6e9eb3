package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/DStukalo/children-server/internal/metrics"
	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/webpay"
)

func notify(values map[string]string) webpay.Notification {
	return webpay.NotificationFromValues(values)
}

func createPayment(t *testing.T, f *fixture, orderID string) string {
	t.Helper()
	res, err := f.service.CreateSession(context.Background(), validRequest(orderID), testBaseURL)
	if err != nil {
		t.Fatalf("CreateSession(%s) error = %v", orderID, err)
	}
	return res.PaymentID
}

func TestReconciler_ApprovedThenDeclinedStaysSuccess(t *testing.T) {
	f := newFixture(testGatewayConfig())
	ctx := context.Background()
	id := createPayment(t, f, "ord-1")

	res, err := f.reconcile.HandleCallback(ctx, notify(map[string]string{
		"wsb_order_num": "ord-1",
		"wsb_status":    "approved",
	}))
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if !res.Matched || !res.Changed || res.Status != model.PaymentStatusSuccess {
		t.Errorf("result = %+v, want matched, changed, success", res)
	}

	res, err = f.reconcile.HandleCallback(ctx, notify(map[string]string{
		"wsb_order_num": "ord-1",
		"wsb_status":    "declined",
	}))
	if err != nil {
		t.Fatalf("second HandleCallback() error = %v", err)
	}
	if !res.Matched || res.Changed || res.Status != model.PaymentStatusSuccess {
		t.Errorf("second result = %+v, want matched, unchanged, success", res)
	}

	p, _ := f.repo.FindByID(ctx, id)
	if p.Status != model.PaymentStatusSuccess {
		t.Errorf("Status = %q, want success", p.Status)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(f.publisher.events))
	}
	ev := f.publisher.events[0]
	if ev.PaymentID != id || ev.Status != "success" || ev.Amount != "19.90" {
		t.Errorf("event = %+v", ev)
	}
	if len(f.cache.deletes) != 1 || f.cache.deletes[0] != id {
		t.Errorf("cache deletes = %v, want [%s]", f.cache.deletes, id)
	}
	if f.metrics.callbacks[metrics.CallbackApplied] != 1 {
		t.Errorf("applied callbacks = %d, want 1", f.metrics.callbacks[metrics.CallbackApplied])
	}
	if f.metrics.callbacks[metrics.CallbackAlreadyFinal] != 1 {
		t.Errorf("already final callbacks = %d, want 1", f.metrics.callbacks[metrics.CallbackAlreadyFinal])
	}
	if f.metrics.transitions["success"] != 1 {
		t.Errorf("success transitions = %d, want 1", f.metrics.transitions["success"])
	}
	if len(f.callbacks.records) != 2 {
		t.Errorf("recorded callbacks = %d, want 2", len(f.callbacks.records))
	}
}

func TestReconciler_OutcomeMapping(t *testing.T) {
	tests := []struct {
		status string
		want   model.PaymentStatus
	}{
		{"success", model.PaymentStatusSuccess},
		{"Approved", model.PaymentStatusSuccess},
		{"declined", model.PaymentStatusFailed},
		{"", model.PaymentStatusFailed},
		{"something-new", model.PaymentStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			f := newFixture(testGatewayConfig())
			id := createPayment(t, f, "ord-map")

			_, err := f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
				"wsb_order_num": "ord-map",
				"wsb_status":    tt.status,
			}))
			if err != nil {
				t.Fatalf("HandleCallback() error = %v", err)
			}
			p, _ := f.repo.FindByID(context.Background(), id)
			if p.Status != tt.want {
				t.Errorf("Status = %q, want %q", p.Status, tt.want)
			}
		})
	}
}

func TestReconciler_MissingOrderNumber(t *testing.T) {
	f := newFixture(testGatewayConfig())

	_, err := f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
		"wsb_order_num": "  ",
		"wsb_status":    "approved",
	}))
	assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)

	if rec := f.callbacks.last(); rec == nil || rec.Matched {
		t.Errorf("callback record = %+v, want unmatched record", rec)
	}
	if f.metrics.callbacks[metrics.CallbackInvalidRequest] != 1 {
		t.Error("invalid request callback should be counted")
	}
}

func TestReconciler_UnknownOrderIsAbsorbed(t *testing.T) {
	f := newFixture(testGatewayConfig())

	res, err := f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
		"wsb_order_num": "nope",
		"wsb_status":    "approved",
		"wsb_tid":       "T-1",
	}))
	if err != nil {
		t.Fatalf("HandleCallback() error = %v, want nil", err)
	}
	if res.Matched || res.Changed {
		t.Errorf("result = %+v, want unmatched", res)
	}

	rec := f.callbacks.last()
	if rec == nil {
		t.Fatal("unmatched callback should be recorded")
	}
	if rec.OrderNum != "nope" || rec.TransactionID != "T-1" || rec.ResultStatus != nil {
		t.Errorf("record = %+v", rec)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["wsb_tid"] != "T-1" {
		t.Errorf("payload = %v", payload)
	}
	if len(f.publisher.events) != 0 {
		t.Error("no event should be published for unknown orders")
	}
}

func TestReconciler_SignatureVerification(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.VerifyCallback = true
	signer := webpay.NewSigner(cfg.SecretKey)

	signed := func(order, tid, status string) map[string]string {
		values := map[string]string{
			"wsb_order_num": order,
			"wsb_tid":       tid,
			"wsb_status":    status,
		}
		values["wsb_signature"] = signer.Sign(webpay.CallbackSignatureFields, values)
		return values
	}

	t.Run("正しい署名は適用される", func(t *testing.T) {
		f := newFixture(cfg)
		id := createPayment(t, f, "ord-s")

		res, err := f.reconcile.HandleCallback(context.Background(), notify(signed("ord-s", "T-9", "success")))
		if err != nil {
			t.Fatalf("HandleCallback() error = %v", err)
		}
		if !res.Changed {
			t.Error("valid callback should change the payment")
		}
		p, _ := f.repo.FindByID(context.Background(), id)
		if p.Status != model.PaymentStatusSuccess {
			t.Errorf("Status = %q, want success", p.Status)
		}
		if rec := f.callbacks.last(); !rec.SignatureValid || !rec.Matched {
			t.Errorf("record = %+v, want valid matched", rec)
		}
	})

	t.Run("改ざんされた署名は拒否される", func(t *testing.T) {
		f := newFixture(cfg)
		id := createPayment(t, f, "ord-s")

		values := signed("ord-s", "T-9", "declined")
		values["wsb_status"] = "success"

		_, err := f.reconcile.HandleCallback(context.Background(), notify(values))
		assertAPIErrorCode(t, err, model.ErrCodeInvalidSignature)

		p, _ := f.repo.FindByID(context.Background(), id)
		if p.Status != model.PaymentStatusPending {
			t.Errorf("Status = %q, want pending", p.Status)
		}
		if rec := f.callbacks.last(); rec == nil || rec.SignatureValid {
			t.Errorf("record = %+v, want recorded invalid signature", rec)
		}
		if f.metrics.signatureFailures != 1 {
			t.Errorf("signature failures = %d, want 1", f.metrics.signatureFailures)
		}
	})

	t.Run("署名なしは拒否される", func(t *testing.T) {
		f := newFixture(cfg)
		createPayment(t, f, "ord-s")

		_, err := f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
			"wsb_order_num": "ord-s",
			"wsb_status":    "success",
		}))
		assertAPIErrorCode(t, err, model.ErrCodeInvalidSignature)
	})
}

func TestReconciler_StoreError(t *testing.T) {
	f := newFixture(testGatewayConfig())
	f.repo.err = errStore

	_, err := f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
		"wsb_order_num": "ord-x",
		"wsb_status":    "success",
	}))
	if !errors.Is(err, errStore) {
		t.Errorf("error = %v, want wrapping store error", err)
	}
	if f.metrics.callbacks[metrics.CallbackError] != 1 {
		t.Error("store failure should be counted")
	}
}

func TestReconciler_CallbackLogFailureDoesNotFailCallback(t *testing.T) {
	f := newFixture(testGatewayConfig())
	createPayment(t, f, "ord-log")
	f.callbacks.err = errStore

	res, err := f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
		"wsb_order_num": "ord-log",
		"wsb_status":    "success",
	}))
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if !res.Changed {
		t.Error("callback should still be applied")
	}
}

func TestReconciler_PublishFailureDoesNotFailCallback(t *testing.T) {
	f := newFixture(testGatewayConfig())
	createPayment(t, f, "ord-pub")
	f.publisher.err = errors.New("broker down")

	res, err := f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
		"wsb_order_num": "ord-pub",
		"wsb_status":    "success",
	}))
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if res.Status != model.PaymentStatusSuccess {
		t.Errorf("Status = %q, want success", res.Status)
	}
}

func TestReconciler_CanceledContextStillApplies(t *testing.T) {
	f := newFixture(testGatewayConfig())
	id := createPayment(t, f, "ord-ctx")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.reconcile.HandleCallback(ctx, notify(map[string]string{
		"wsb_order_num": "ord-ctx",
		"wsb_status":    "success",
	})); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	p, _ := f.repo.FindByID(context.Background(), id)
	if p.Status != model.PaymentStatusSuccess {
		t.Errorf("Status = %q, want success", p.Status)
	}
}

func TestReconciler_ConcurrentCallbacksSingleTransition(t *testing.T) {
	f := newFixture(testGatewayConfig())
	createPayment(t, f, "ord-race")

	statuses := []string{"success", "declined", "approved", "failed", "success", "declined"}
	var wg sync.WaitGroup
	for _, s := range statuses {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			_, _ = f.reconcile.HandleCallback(context.Background(), notify(map[string]string{
				"wsb_order_num": "ord-race",
				"wsb_status":    status,
			}))
		}(s)
	}
	wg.Wait()

	if n := len(f.publisher.events); n != 1 {
		t.Errorf("published events = %d, want exactly 1", n)
	}
	total := f.metrics.transitions["success"] + f.metrics.transitions["failed"]
	if total != 1 {
		t.Errorf("transitions = %d, want 1", total)
	}
}

func TestReconciler_ReturnAfterCallbackIsNoop(t *testing.T) {
	f := newFixture(testGatewayConfig())
	ctx := context.Background()
	id := createPayment(t, f, "ord-mix")

	if _, err := f.reconcile.HandleCallback(ctx, notify(map[string]string{
		"wsb_order_num": "ord-mix",
		"wsb_status":    "declined",
	})); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if err := f.service.HandleReturn(ctx, id, model.PaymentStatusSuccess); err != nil {
		t.Fatalf("HandleReturn() error = %v", err)
	}

	p, _ := f.repo.FindByID(ctx, id)
	if p.Status != model.PaymentStatusFailed {
		t.Errorf("Status = %q, want failed", p.Status)
	}
}
