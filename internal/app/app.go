package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/DStukalo/children-server/internal/auth"
	"github.com/DStukalo/children-server/internal/cache"
	"github.com/DStukalo/children-server/internal/config"
	"github.com/DStukalo/children-server/internal/database"
	"github.com/DStukalo/children-server/internal/events"
	"github.com/DStukalo/children-server/internal/handler"
	"github.com/DStukalo/children-server/internal/logger"
	"github.com/DStukalo/children-server/internal/metrics"
	"github.com/DStukalo/children-server/internal/middleware"
	"github.com/DStukalo/children-server/internal/payment"
	"github.com/DStukalo/children-server/internal/repository"
	"github.com/DStukalo/children-server/internal/security"
	"github.com/DStukalo/children-server/internal/user"
	"github.com/DStukalo/children-server/internal/webpay"
	"github.com/DStukalo/children-server/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "4000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.String("public_url", cfg.ProductionURL),
		slog.String("auth_token_mode", string(cfg.AuthTokenMode)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, cfg.DBSSL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. 任意の外部依存（Redis、Kafka）
	statusCache := newStatusCache(cfg)
	if closer, ok := statusCache.(io.Closer); ok {
		defer closer.Close()
	}
	publisher := newPublisher(cfg)
	defer publisher.Close()

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)
	callbackRepo := repository.NewPostgresCallbackRepo(db)

	// 5. セキュリティ関連の初期化
	sanitizer := security.NewTextSanitizer()
	seed, err := webpay.NewSeedGenerator()
	if err != nil {
		return err
	}
	tokens, err := newTokenManager(cfg, sessionRepo)
	if err != nil {
		return err
	}

	// 6. ドメインサービスの初期化
	userService := user.NewService(userRepo, sanitizer)
	authService := auth.NewService(userService, tokens, auth.ServiceConfig{})

	gateway := gatewayConfig(cfg)
	if !gateway.Configured() {
		slog.Warn("WebPayの認証情報が未設定のため、決済作成は失敗します")
	}
	if !gateway.VerifyCallback {
		slog.Warn("ゲートウェイ通知の署名検証が無効です")
	}
	hooks := payment.Hooks{
		Cache:     statusCache,
		Publisher: publisher,
		Metrics:   collector,
	}
	paymentService := payment.NewService(paymentRepo, gateway, seed, sanitizer, hooks)
	reconciler := payment.NewReconciler(paymentRepo, callbackRepo, gateway, hooks)

	// 7. ルーターの構築（RATE_LIMIT_* はreq/min単位）
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSensitive),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     authService,
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		UserService: userService,

		PaymentService: paymentService,
		Reconciler:     reconciler,
		PaymentConfig: handler.PaymentHandlerConfig{
			PublicURL:      cfg.ProductionURL,
			DeepLinkScheme: cfg.AppDeepLinkScheme,
		},
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	serveErr := make(chan error, 1)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// gatewayConfig はConfigからWebPay接続設定を組み立てる。
func gatewayConfig(cfg *config.Config) payment.GatewayConfig {
	return payment.GatewayConfig{
		StoreID:        cfg.WebPayStoreID,
		SecretKey:      cfg.WebPaySecretKey,
		GatewayURL:     cfg.WebPayAPIURL,
		Sandbox:        cfg.WebPaySandbox(),
		VerifyCallback: cfg.WebPayVerifyCallback,
	}
}

// newTokenManager はAUTH_TOKEN_MODEに応じたトークン管理を返す。
func newTokenManager(cfg *config.Config, sessionRepo repository.SessionRepository) (auth.TokenManager, error) {
	switch cfg.AuthTokenMode {
	case config.AuthTokenModeSession:
		return auth.NewSessionTokens(sessionRepo, cfg.SessionMaxAgeDuration()), nil
	case config.AuthTokenModeJWT:
		return auth.NewJWTTokens(cfg.JWTSecret, cfg.SessionMaxAgeDuration()), nil
	default:
		return nil, fmt.Errorf("unsupported AUTH_TOKEN_MODE: %q", cfg.AuthTokenMode)
	}
}

// newStatusCache はREDIS_URLが設定されていればRedisの状態キャッシュを返す。
// 未設定または接続できない場合はキャッシュなしで動作する。
func newStatusCache(cfg *config.Config) cache.StatusCache {
	if cfg.RedisURL == "" {
		return cache.NopStatusCache{}
	}

	c, err := cache.NewRedisStatusCache(context.Background(), cfg.RedisURL, cfg.StatusCacheTTL)
	if err != nil {
		slog.Warn("Redisに接続できないため、状態キャッシュを無効にします",
			slog.String("error", err.Error()),
		)
		return cache.NopStatusCache{}
	}

	slog.Info("status cache enabled", slog.Duration("ttl", cfg.StatusCacheTTL))
	return c
}

// newPublisher はKAFKA_BROKERSが設定されていればKafkaへのイベント発行を返す。
func newPublisher(cfg *config.Config) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}
	}

	slog.Info("payment events enabled",
		slog.Any("brokers", cfg.KafkaBrokers),
		slog.String("topic", cfg.KafkaPaymentTopic),
	)
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPaymentTopic)
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを起動直後と24時間ごとに実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.CallbackLogRetentionDays

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Int("callback_retention_days", cleanupJob.RetentionDays),
	)

	runCleanupLoop(ctx, cleanupJob, 24*time.Hour)

	slog.Info("worker stopped gracefully")
	return nil
}

// cleanupRunner はrunCleanupLoopが必要とするジョブのインターフェース。
type cleanupRunner interface {
	Run(ctx context.Context) error
}

// runCleanupLoop はジョブを起動直後に1回、以降intervalごとに実行する。
// ctxがキャンセルされると戻る。
func runCleanupLoop(ctx context.Context, job cleanupRunner, interval time.Duration) {
	run := func() {
		if err := job.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	dsn, err := database.ApplySSLMode(cfg.DatabaseURL, cfg.DBSSL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err := database.RunMigrations(dsn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(dsn)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
