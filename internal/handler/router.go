package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/timelog/internal/metrics"
	"github.com/hitoshi/timelog/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// タイムログ
	EntryService EntryServiceInterface
	QueryService QueryServiceInterface
	Events       *EventsHandler

	// タグ
	TagService TagServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General) → CSRF
//
// 計測の開始・停止・継続には書き込み用のレート制限を追加する。
// /health と /metrics は認証の外に配置する。
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

	entryHandler := NewEntryHandler(deps.EntryService, deps.QueryService)
	tagHandler := NewTagHandler(deps.TagService)

	// --- 認証不要のルート ---
	if deps.HealthChecker != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		r.Route("/api/time-log-entries", func(r chi.Router) {
			r.Get("/", entryHandler.List)
			r.Get("/active", entryHandler.GetActive)
			r.Get("/days", entryHandler.Days)
			r.Get("/week", entryHandler.Week)
			if deps.Events != nil {
				r.Method(http.MethodGet, "/events", deps.Events)
			}
			r.Put("/group", entryHandler.GroupEdit)

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.WriteMiddleware())
				r.Post("/start", entryHandler.Start)
				r.Post("/stop", entryHandler.Stop)
				r.Post("/{id}/continue", entryHandler.Continue)
			})

			r.Patch("/{id}", entryHandler.Edit)
			r.Delete("/{id}", entryHandler.Delete)
		})

		r.Route("/api/tags", func(r chi.Router) {
			r.Get("/", tagHandler.ListTags)
			r.Put("/{tag}/legacy", tagHandler.MarkLegacy)
			r.Delete("/{tag}/legacy", tagHandler.UnmarkLegacy)
		})
	})

	return r
}
