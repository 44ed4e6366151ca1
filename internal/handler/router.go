// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/joinauth/internal/metrics"
	"github.com/hitoshi/joinauth/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	Logger            *slog.Logger
	CORSAllowedOrigin string

	// メトリクス
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// サービス
	UserService     UserServiceInterface
	JoinCodeService JoinCodeServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (Auth | Admin)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.UserService, deps.JoinCodeService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Post("/login", authHandler.Login)
	r.Post("/signUp", authHandler.SignUp)
	r.Post("/join", authHandler.Join)

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator, deps.Metrics))

		r.Post("/user", userHandler.Me)
		r.Put("/users/{id}", userHandler.Update)
	})

	// --- 管理者のみのルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAdminMiddleware(deps.Authenticator, deps.Metrics))

		r.Delete("/users/{id}", userHandler.Delete)
		r.Post("/admin", userHandler.List)
	})

	return r
}
