package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/DStukalo/children-server/internal/cache"
	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/repository"
	"github.com/DStukalo/children-server/internal/security"
	"github.com/DStukalo/children-server/internal/webpay"
)

const (
	// MaxDescriptionLength はゲートウェイが受け付ける説明文の最大文字数。
	MaxDescriptionLength = 255
	// MaxOrderIDLength は注文番号の最大文字数。
	MaxOrderIDLength = 64
)

// maxAmount はNUMERIC(10,2)に収まる最大金額。
var maxAmount = decimal.RequireFromString("99999999.99")

// CreateRequest は決済セッション作成の入力。
type CreateRequest struct {
	Amount      *decimal.Decimal
	Currency    string
	Description string
	OrderID     string
	CourseID    *int64
	StageID     *int64
	UserID      *string
}

// CreateResult は決済セッション作成の結果。
type CreateResult struct {
	PaymentID  string
	PaymentURL string
}

// Service は決済セッションの作成、フォーム生成、状態照会を行う。
type Service struct {
	repo      repository.PaymentRepository
	cfg       GatewayConfig
	signer    *webpay.Signer
	seed      func() string
	sanitizer security.TextSanitizer
	hooks     Hooks
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.PaymentRepository,
	cfg GatewayConfig,
	seed func() string,
	sanitizer security.TextSanitizer,
	hooks Hooks,
) *Service {
	return &Service{
		repo:      repo,
		cfg:       cfg,
		signer:    webpay.NewSigner(cfg.SecretKey),
		seed:      seed,
		sanitizer: sanitizer,
		hooks:     hooks.withDefaults(),
		now:       time.Now,
	}
}

// CreateSession は署名済みのpending決済を作成し、フォーム表示用URLを返す。
// baseURLはコールバックURLの組み立てに使う公開URL。
func (s *Service) CreateSession(ctx context.Context, req CreateRequest, baseURL string) (*CreateResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	description := s.sanitizer.Clean(req.Description, MaxDescriptionLength)

	if err := validateCreate(req, description, orderID); err != nil {
		return nil, err
	}
	if !s.cfg.Configured() {
		return nil, model.NewConfigurationError()
	}

	currency, err := webpay.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, model.NewInvalidRequestError("Unsupported currency")
	}
	currencyID, _ := webpay.CurrencyID(currency)

	amount := *req.Amount
	now := s.now()
	p := &model.Payment{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		UserID:      req.UserID,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		Status:      model.PaymentStatusPending,
		CourseID:    req.CourseID,
		StageID:     req.StageID,
		Seed:        s.seed(),
		TestFlag:    s.cfg.TestFlag(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.Signature = s.signer.Sign(webpay.RequestSignatureFields, map[string]string{
		"wsb_seed":        p.Seed,
		"wsb_storeid":     s.cfg.StoreID,
		"wsb_order_num":   p.OrderID,
		"wsb_test":        p.TestFlag,
		"wsb_currency_id": currencyID,
		"wsb_total":       webpay.FormatTotal(amount),
	})

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateOrderIDError(orderID)
		}
		return nil, fmt.Errorf("決済セッションの保存に失敗しました: %w", err)
	}

	s.hooks.Metrics.RecordPaymentCreated()
	slog.Info("決済セッションを作成しました",
		slog.String("payment_id", p.ID),
		slog.String("order_id", p.OrderID),
		slog.String("amount", webpay.FormatTotal(amount)),
		slog.String("currency", currency),
	)

	return &CreateResult{
		PaymentID:  p.ID,
		PaymentURL: FormURL(baseURL, p.ID),
	}, nil
}

func validateCreate(req CreateRequest, description, orderID string) error {
	amount := req.Amount
	switch {
	case amount == nil:
		return model.NewInvalidRequestError("Amount is required")
	case !amount.IsPositive():
		return model.NewInvalidRequestError("Amount must be positive")
	case amount.GreaterThan(maxAmount):
		return model.NewInvalidRequestError("Amount is too large")
	case !amount.Equal(amount.Round(2)):
		return model.NewInvalidRequestError("Amount must have at most two decimal places")
	case description == "":
		return model.NewInvalidRequestError("Description is required")
	case orderID == "":
		return model.NewInvalidRequestError("Order ID is required")
	case len(orderID) > MaxOrderIDLength:
		return model.NewInvalidRequestError("Order ID is too long")
	case !fitsInt32(req.CourseID):
		return model.NewInvalidRequestError("Course ID is out of range")
	case !fitsInt32(req.StageID):
		return model.NewInvalidRequestError("Stage ID is out of range")
	}
	return nil
}

// fitsInt32 はINTEGER列に保存できる値かを判定する。nilは未指定として許可する。
func fitsInt32(v *int64) bool {
	return v == nil || (*v >= math.MinInt32 && *v <= math.MaxInt32)
}

// RenderForm は保存済みの決済からゲートウェイへの自動送信フォームを組み立てる。
// 署名は作成時に保存した値をそのまま使う。
func (s *Service) RenderForm(ctx context.Context, paymentID, baseURL string) (*webpay.Form, error) {
	p, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("決済の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPaymentNotFoundError()
	}

	currencyID, err := webpay.CurrencyID(p.Currency)
	if err != nil {
		return nil, fmt.Errorf("保存済みの通貨が不正です: %w", err)
	}

	form := webpay.BuildForm(webpay.FormParams{
		GatewayURL: s.cfg.GatewayURL,
		StoreID:    s.cfg.StoreID,
		OrderNum:   p.OrderID,
		TestFlag:   p.TestFlag,
		CurrencyID: currencyID,
		Seed:       p.Seed,
		ItemName:   p.Description,
		Amount:     p.Amount,
		Signature:  p.Signature,
		ReturnURL:  ReturnURL(baseURL, p.ID),
		CancelURL:  CancelURL(baseURL, p.ID),
		NotifyURL:  NotifyURL(baseURL),
	})
	return &form, nil
}

// GetStatus は決済の現在の状態を返す。
// 所有者が設定された決済を他のユーザーが参照した場合は存在しないものとして扱う。
func (s *Service) GetStatus(ctx context.Context, paymentID, userID string) (model.PaymentStatus, error) {
	entry, err := s.hooks.Cache.Get(ctx, paymentID)
	if err != nil {
		slog.Warn("決済状態キャッシュの参照に失敗しました",
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
	}

	if entry == nil {
		p, err := s.repo.FindByID(ctx, paymentID)
		if err != nil {
			return "", fmt.Errorf("決済の取得に失敗しました: %w", err)
		}
		if p == nil {
			return "", model.NewPaymentNotFoundError()
		}
		entry = &cache.StatusEntry{Status: p.Status, UserID: p.UserID}
		// キャッシュするのは以後変化しない終端状態のみ。
		if p.Status.IsTerminal() {
			if err := s.hooks.Cache.Set(ctx, paymentID, *entry); err != nil {
				slog.Warn("決済状態のキャッシュに失敗しました",
					slog.String("payment_id", paymentID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if entry.UserID != nil && *entry.UserID != userID {
		return "", model.NewPaymentNotFoundError()
	}
	return entry.Status, nil
}

// HandleReturn はブラウザの戻り先（成功／キャンセル）到達時の状態更新を行う。
// 成功側は通知の署名検証が無効な場合のみsuccessにする。検証が有効なら状態は署名付き通知に任せる。
// 存在しない決済は何もしない。
func (s *Service) HandleReturn(ctx context.Context, paymentID string, status model.PaymentStatus) error {
	if status == model.PaymentStatusSuccess && s.cfg.VerifyCallback {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	p, changed, err := s.repo.SetStatusByID(ctx, paymentID, status)
	if err != nil {
		return fmt.Errorf("決済状態の更新に失敗しました: %w", err)
	}
	if p == nil {
		slog.Warn("戻り先で存在しない決済が指定されました",
			slog.String("payment_id", paymentID),
		)
		return nil
	}
	if changed {
		s.hooks.afterTransition(ctx, p, s.now())
	}
	return nil
}

// FormURL は決済フォーム表示URLを返す。
func FormURL(baseURL, paymentID string) string {
	return baseURL + "/api/payment/form/" + url.PathEscape(paymentID)
}

// ReturnURL は支払い完了時の戻り先URLを返す。
func ReturnURL(baseURL, paymentID string) string {
	return baseURL + "/api/payment/success?paymentId=" + url.QueryEscape(paymentID)
}

// CancelURL は支払い中止時の戻り先URLを返す。
func CancelURL(baseURL, paymentID string) string {
	return baseURL + "/api/payment/cancel?paymentId=" + url.QueryEscape(paymentID)
}

// NotifyURL はゲートウェイ通知の受信URLを返す。
func NotifyURL(baseURL string) string {
	return baseURL + "/api/payment/callback"
}
