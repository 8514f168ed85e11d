package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sunrin-today/cli-domain-backend/internal/auth"
	"github.com/sunrin-today/cli-domain-backend/internal/config"
	"github.com/sunrin-today/cli-domain-backend/internal/database"
	"github.com/sunrin-today/cli-domain-backend/internal/dns"
	"github.com/sunrin-today/cli-domain-backend/internal/domain"
	"github.com/sunrin-today/cli-domain-backend/internal/handler"
	"github.com/sunrin-today/cli-domain-backend/internal/logger"
	"github.com/sunrin-today/cli-domain-backend/internal/mail"
	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/middleware"
	"github.com/sunrin-today/cli-domain-backend/internal/moderation"
	"github.com/sunrin-today/cli-domain-backend/internal/notify"
	"github.com/sunrin-today/cli-domain-backend/internal/push"
	"github.com/sunrin-today/cli-domain-backend/internal/repository"
	"github.com/sunrin-today/cli-domain-backend/internal/security"
	"github.com/sunrin-today/cli-domain-backend/internal/ticket"
	"github.com/sunrin-today/cli-domain-backend/internal/transfer"
	"github.com/sunrin-today/cli-domain-backend/internal/user"
	"github.com/sunrin-today/cli-domain-backend/internal/worker/cleanup"
	"github.com/sunrin-today/cli-domain-backend/internal/worker/queue"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 30 * time.Second
	// stateTTL はOAuthのstateの有効期間。
	stateTTL = 10 * time.Minute
	// dbPingTimeout は起動時のDB疎通確認の上限。
	dbPingTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しなければ何もしない）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
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
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// server はserveモードで起動する部品をまとめたもの。
type server struct {
	handler     http.Handler
	queue       *queue.Queue
	registry    *push.Registry
	rateLimiter *middleware.RateLimiter
}

// buildServer はリポジトリ → 外部クライアント → サービス → ルーターの順に依存関係を組み立てる。
// DBへの問い合わせは行わない。
func buildServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	// 1. 起動時に読み込む設定ファイル・鍵
	zones, err := dns.LoadZones(cfg.DomainZonesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain zones: %w", err)
	}
	verifier, err := moderation.NewVerifier(cfg.DiscordPublicKey)
	if err != nil {
		return nil, err
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	loginSessionRepo := repository.NewPostgresLoginSessionRepo(db)
	accessTokenRepo := repository.NewPostgresAccessTokenRepo(db)
	ticketRepo := repository.NewPostgresTicketRepo(db)
	domainRepo := repository.NewPostgresDomainRepo(db)
	transferRepo := repository.NewPostgresTransferRepo(db)

	// 4. 副作用キューと外部クライアント
	q := queue.New(log, cfg.QueueCapacity, cfg.QueueWorkers, collector)
	registry := push.NewRegistry(log, collector)
	upstream := &http.Client{Timeout: cfg.UpstreamTimeout}

	discord := moderation.NewClient(upstream, moderation.ClientConfig{
		BaseURL:         cfg.DiscordBaseURL,
		BotToken:        cfg.DiscordBotToken,
		VerifyChannelID: cfg.DiscordVerifyChannelID,
		LogChannelID:    cfg.DiscordLogChannelID,
	}, log, collector)
	mailer := mail.NewClient(upstream, mail.Config{
		BaseURL: cfg.EmailBaseURL,
		APIKey:  cfg.EmailAPIKey,
		Sender:  cfg.EmailSenderAddress,
	}, log, collector)
	cloudflare := dns.NewCloudflareClient(upstream, cfg.CloudflareBaseURL, cfg.CloudflareAPIToken, log, collector)
	sink := notify.NewSink(q, discord, mailer, log)

	// 5. ドメインサービスの初期化
	google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, upstream, collector)
	sessions := auth.NewSessionService(loginSessionRepo, registry, cfg.LoginSessionTTL, log, collector)
	tokens := auth.NewTokenService(accessTokenRepo, cfg.AccessTokenTTL, collector)
	authService := auth.NewService(
		google, auth.NewStateSigner(cfg.SessionSecret, stateTTL), sessions, tokens,
		userRepo, sink, log,
		auth.ServiceConfig{DomainLimit: cfg.UserDomainLimit},
	)

	userService := user.NewService(userRepo, domainRepo, ticketRepo)
	ticketService := ticket.NewService(ticketRepo, domainRepo, userRepo, zones, cloudflare, discord, sink, log, collector)
	domainService := domain.NewService(domainRepo, zones, cloudflare, sink, log)
	transferService := transfer.NewService(transferRepo, domainService, sink, log, transfer.Config{
		BaseURL:   cfg.BaseURL,
		InviteTTL: cfg.TransferInviteTTL,
	})

	// 6. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitRegister))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker: db,

		AuthService:    authService,
		ProfileService: userService,
		Sessions:       sessions,
		Deliverer:      authService,

		TicketService: ticketService,
		DomainService: domainService,

		TransferService: transferService,

		Verifier:        verifier,
		DecisionService: ticketService,
		Queue:           q,
		Discord: handler.DiscordConfig{
			VerifyChannelID: cfg.DiscordVerifyChannelID,
			VerifyRoleID:    cfg.DiscordVerifyRoleID,
		},

		Pages: security.NewPageRenderer(),
	})

	return &server{
		handler:     router,
		queue:       q,
		registry:    registry,
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := buildServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.queue.Start(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// 待受中のCLIには再接続を促してから閉じる
	srv.registry.CloseAll(push.CloseGoingAway, "server shutting down")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := srv.queue.Shutdown(shutdownCtx); err != nil {
		slog.Error("queue did not drain before timeout", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのログインセッション・アクセストークン・移管招待を定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := newCleanupJob(db, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newCleanupJob は期限付きデータを持つ全テーブルを対象にしたクリーンアップジョブを生成する。
func newCleanupJob(db *sql.DB, log *slog.Logger) *cleanup.CleanupJob {
	return cleanup.NewCleanupJob(log,
		cleanup.Target{Name: "login_sessions", Purger: repository.NewPostgresLoginSessionRepo(db)},
		cleanup.Target{Name: "access_tokens", Purger: repository.NewPostgresAccessTokenRepo(db)},
		cleanup.Target{Name: "transfer_invites", Purger: repository.NewPostgresTransferRepo(db)},
	)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
