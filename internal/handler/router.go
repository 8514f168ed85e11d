package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/middleware"
	"github.com/sunrin-today/cli-domain-backend/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 死活監視
	HealthChecker HealthChecker

	// 認証
	AuthService    AuthServiceInterface
	ProfileService ProfileServiceInterface
	Sessions       LoginSessionSubscriber
	Deliverer      TokenDeliverer

	// ドメイン
	TicketService TicketServiceInterface
	DomainService DomainServiceInterface

	// 移管
	TransferService TransferServiceInterface

	// モデレーション
	Verifier        SignatureVerifier
	DecisionService DecisionServiceInterface
	Queue           TaskEnqueuer
	Discord         DiscordConfig

	Pages *security.PageRenderer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → (Auth) → RateLimit(General)
//
// /health、/metrics、/discord/interaction はレート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	healthHandler := NewHealthHandler(deps.HealthChecker, logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.ProfileService, deps.Pages, logger)
	liveHandler := NewLiveHandler(deps.Sessions, deps.Deliverer, logger)
	domainHandler := NewDomainHandler(deps.TicketService, deps.DomainService)
	transferHandler := NewTransferHandler(deps.TransferService, deps.Pages)
	discordHandler := NewDiscordHandler(deps.Verifier, deps.DecisionService, deps.Queue, deps.Discord, logger)

	// --- 監視・Webhook ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Post("/discord/interaction", discordHandler.Interaction)

	// --- 認証不要のルート ---
	// 接続元IPごとにレート制限する
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", Hello)

		r.Post("/auth/login/session", authHandler.CreateSession)
		r.Get("/auth/login/session", authHandler.PollToken)
		r.Get("/auth/login/session/ws", liveHandler.Serve)
		r.Get("/auth/authorization-url", authHandler.AuthorizationURL)
		r.Get("/auth/callback", authHandler.Callback)

		r.Get("/domain/available", domainHandler.Available)
	})

	// メールのリンクはブラウザで開かれるため、トークンなしでも案内ページを返す
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/transfer/accept", transferHandler.Accept)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/me", authHandler.Me)

		r.Get("/domain", domainHandler.List)
		r.Get("/domain/exist", domainHandler.Exist)
		r.Get("/domain/tickets", domainHandler.Tickets)
		r.Get("/domain/ticket/{id}/status", domainHandler.TicketStatus)
		r.Post("/domain/ticket/{id}/close", domainHandler.CloseTicket)

		// 申請は専用のレート制限を追加する
		r.With(deps.RateLimiter.RegisterMiddleware()).Post("/domain/register", domainHandler.Register)
		r.Post("/domain/update", domainHandler.Update)
		r.Post("/domain/delete", domainHandler.Delete)

		r.Post("/transfer/create", transferHandler.Create)
		r.Post("/transfer/reject", transferHandler.Reject)
	})

	return r
}
