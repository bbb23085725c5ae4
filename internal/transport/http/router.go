package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/recallbot/internal/config"
	"github.com/recallbot/internal/domain"
	"github.com/recallbot/internal/transport/http/handler"
	appmiddleware "github.com/recallbot/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.AccessLog(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// 1 request/second, burst of 5, per operator IP. A run can take minutes.
	operatorRL := appmiddleware.NewRateLimiter(rate.Limit(1), 5)

	healthH := handler.NewHealthHandler(deps.Store)
	recallH := handler.NewRecallHandler(deps.Recalls)
	pipelineH := handler.NewPipelineHandler(deps.Pipeline)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Get("/recalls", recallH.List)
		r.Get("/recalls/{id}", recallH.Get)
		r.Get("/posts", recallH.ListPosts)
		r.Get("/sources", recallH.ListSources)

		if deps.Tokens == nil {
			deps.Logger.Warn().Msg("no token verifier configured, operator routes disabled")
			return
		}

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.Tokens))

			r.With(appmiddleware.RequireRole(domain.RoleAdmin, domain.RoleViewer)).
				Get("/runs/{id}", pipelineH.GetRun)

			// Operator routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.Use(operatorRL.Limit)

				r.Post("/recalls", pipelineH.Ingest)
				r.Post("/posts", pipelineH.Publish)
				r.Post("/runs", pipelineH.Run)
				r.Post("/runs/{id}/resume", pipelineH.Resume)
				r.Post("/reconcile", pipelineH.Reconcile)
				r.Delete("/intents/{recall_id}", pipelineH.ReleaseIntent)
			})
		})
	})

	return r
}
