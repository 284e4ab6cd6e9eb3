package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/payment"
	"github.com/DStukalo/children-server/internal/webpay"
)

// PaymentServiceInterface は決済ハンドラーが必要とするサービスインターフェース。
type PaymentServiceInterface interface {
	CreateSession(ctx context.Context, req payment.CreateRequest, baseURL string) (*payment.CreateResult, error)
	RenderForm(ctx context.Context, paymentID, baseURL string) (*webpay.Form, error)
	GetStatus(ctx context.Context, paymentID, userID string) (model.PaymentStatus, error)
	HandleReturn(ctx context.Context, paymentID string, status model.PaymentStatus) error
}

// CallbackReconciler はゲートウェイ通知を処理するインターフェース。
type CallbackReconciler interface {
	HandleCallback(ctx context.Context, n webpay.Notification) (*payment.CallbackResult, error)
}

// PaymentHandlerConfig は決済ハンドラーの設定。
type PaymentHandlerConfig struct {
	// PublicURL はコールバックURLに使う公開URL。空の場合はリクエストのスキームとホストから組み立てる。
	PublicURL string
	// DeepLinkScheme はアプリへ戻るディープリンクのスキーム。
	DeepLinkScheme string
}

// PaymentHandler は決済フローのHTTPハンドラー。
type PaymentHandler struct {
	service    PaymentServiceInterface
	reconciler CallbackReconciler
	config     PaymentHandlerConfig
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(service PaymentServiceInterface, reconciler CallbackReconciler, config PaymentHandlerConfig) *PaymentHandler {
	if config.DeepLinkScheme == "" {
		config.DeepLinkScheme = "app"
	}
	return &PaymentHandler{
		service:    service,
		reconciler: reconciler,
		config:     config,
	}
}

// createPaymentRequest は決済セッション作成のリクエストボディ。
type createPaymentRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Currency    string           `json:"currency"`
	Description string           `json:"description"`
	OrderID     string           `json:"orderId"`
	CourseID    *int64           `json:"courseId"`
	StageID     *int64           `json:"stageId"`
}

type createPaymentResponse struct {
	Success    bool   `json:"success"`
	PaymentID  string `json:"paymentId"`
	PaymentURL string `json:"paymentUrl"`
	Message    string `json:"message"`
}

type paymentStatusResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Create は決済セッションを作成し、フォーム表示URLを返す。
// POST /api/payment/create
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createPaymentRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.CreateSession(r.Context(), payment.CreateRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		OrderID:     req.OrderID,
		CourseID:    req.CourseID,
		StageID:     req.StageID,
		UserID:      &userID,
	}, h.baseURL(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, createPaymentResponse{
		Success:    true,
		PaymentID:  result.PaymentID,
		PaymentURL: result.PaymentURL,
		Message:    "Payment URL generated",
	})
}

// Form はゲートウェイへ自動送信するHTMLフォームを返す。
// GET /api/payment/form/{paymentId}
func (h *PaymentHandler) Form(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")

	form, err := h.service.RenderForm(r.Context(), paymentID, h.baseURL(r))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodePaymentNotFound {
			writeText(w, http.StatusNotFound, "Payment not found")
			return
		}
		slog.Error("決済フォームの生成に失敗しました",
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
		writeText(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	renderForm(w, form)
}

// Status は決済の現在の状態を返す。
// GET /api/payment/status/{paymentId}
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	paymentID := chi.URLParam(r, "paymentId")

	status, err := h.service.GetStatus(r.Context(), paymentID, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentStatusResponse{
		Success:   true,
		PaymentID: paymentID,
		Status:    string(status),
		Message:   "Payment " + string(status),
	})
}

// Callback はゲートウェイからの非同期通知を受け付ける。
// 対応する決済がない通知も200 "OK"で応答する。
// POST /api/payment/callback
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	values, err := parseCallbackValues(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if _, err := h.reconciler.HandleCallback(r.Context(), webpay.NotificationFromValues(values)); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeText(w, http.StatusOK, "OK")
}

// Success は支払い完了後のブラウザ戻り先。
// GET /api/payment/success?paymentId=
func (h *PaymentHandler) Success(w http.ResponseWriter, r *http.Request) {
	paymentID := r.URL.Query().Get("paymentId")
	h.applyReturn(r, paymentID, model.PaymentStatusSuccess)
	renderHTML(w, http.StatusOK, "result.html", successPage(h.config.DeepLinkScheme, paymentID))
}

// Cancel は支払い中止時のブラウザ戻り先。
// GET /api/payment/cancel?paymentId=
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	paymentID := r.URL.Query().Get("paymentId")
	h.applyReturn(r, paymentID, model.PaymentStatusFailed)
	renderHTML(w, http.StatusOK, "result.html", cancelPage(h.config.DeepLinkScheme, paymentID))
}

// applyReturn は戻り先での状態更新を行う。失敗してもページは表示する。
func (h *PaymentHandler) applyReturn(r *http.Request, paymentID string, status model.PaymentStatus) {
	if paymentID == "" {
		return
	}
	if err := h.service.HandleReturn(r.Context(), paymentID, status); err != nil {
		slog.Error("戻り先での決済状態更新に失敗しました",
			slog.String("payment_id", paymentID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// baseURL はコールバックURLの組み立てに使う公開URLを返す。
func (h *PaymentHandler) baseURL(r *http.Request) string {
	if h.config.PublicURL != "" {
		return h.config.PublicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// parseCallbackValues は通知ボディをフィールド名→値の形に変換する。
// JSONとフォームエンコードの両方を受け付ける。
func parseCallbackValues(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, model.NewInvalidRequestError("Invalid callback body")
		}
		values := make(map[string]string, len(raw))
		for key, v := range raw {
			switch v := v.(type) {
			case nil:
			case string:
				values[key] = v
			case json.Number:
				values[key] = v.String()
			case bool:
				values[key] = strconv.FormatBool(v)
			default:
				b, _ := json.Marshal(v)
				values[key] = string(b)
			}
		}
		return values, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, model.NewInvalidRequestError("Invalid callback body")
	}
	values := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		values[key] = r.PostForm.Get(key)
	}
	return values, nil
}
