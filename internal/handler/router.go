package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/DStukalo/children-server/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Authenticator     middleware.Authenticator
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証・ユーザー
	AuthService AuthServiceInterface
	UserService UserServiceInterface

	// 決済
	PaymentService PaymentServiceInterface
	Reconciler     CallbackReconciler
	PaymentConfig  PaymentHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → CORS → Logging → Auth → RateLimit
//
// ゲートウェイ通知とブラウザ戻り先は認証なしで公開する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	paymentHandler := NewPaymentHandler(deps.PaymentService, deps.Reconciler, deps.PaymentConfig)

	// --- 認証不要のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// ログイン・登録はクライアントIP単位で制限する
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.SensitiveMiddleware())
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	authn := middleware.NewAuthMiddleware(deps.Authenticator)

	r.Route("/api/payment", func(r chi.Router) {
		// ゲートウェイとブラウザから直接呼ばれるルート
		r.Get("/form/{paymentId}", paymentHandler.Form)
		r.Post("/callback", paymentHandler.Callback)
		r.Get("/success", paymentHandler.Success)
		r.Get("/cancel", paymentHandler.Cancel)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// POST /api/payment/create - 決済作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.SensitiveMiddleware()).Post("/create", paymentHandler.Create)
			r.Get("/status/{paymentId}", paymentHandler.Status)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/logout", authHandler.Logout)
		r.Get("/me", userHandler.Me)
		r.Patch("/me", userHandler.UpdateMe)
	})

	return r
}
