package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/multimodalrag/internal/api/handlers"
	"github.com/nikhilbhutani/multimodalrag/internal/api/middleware"
	"github.com/nikhilbhutani/multimodalrag/internal/config"
)

// Deps are the services the HTTP layer exposes. Queue may be nil.
type Deps struct {
	Query  handlers.QueryService
	Ingest handlers.Ingester
	Queue  handlers.Enqueuer
	Checks map[string]handlers.Pinger
}

type Router struct {
	mux     *chi.Mux
	cfg     config.ServerConfig
	deps    Deps
	jwt     *middleware.JWTAuth
	limiter *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	rt := &Router{
		mux:     chi.NewRouter(),
		cfg:     cfg.Server,
		deps:    deps,
		limiter: middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
	if cfg.Auth.JWTSecret != "" {
		rt.jwt = middleware.NewJWTAuth(cfg.Auth.JWTSecret)
	}
	return rt
}

// Limiter is exposed so the caller can run its cleanup loop.
func (rt *Router) Limiter() *middleware.RateLimiter { return rt.limiter }

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.AllowedOrigins))
	r.Use(rt.limiter.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	ragH := handlers.NewRAGHandler(rt.deps.Query)
	ingestH := handlers.NewIngestHandler(rt.deps.Ingest, rt.deps.Queue)

	r.Route("/api/v1", func(r chi.Router) {
		if rt.jwt != nil {
			r.Use(rt.jwt.Authenticate)
		}

		r.Post("/query", ragH.Query)

		r.Route("/search", func(r chi.Router) {
			r.Post("/", ragH.Search)
			r.Post("/image", ragH.SearchImage)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/reset", ragH.ResetSession)
			r.Get("/{id}", ragH.SessionSummary)
		})

		r.Route("/units", func(r chi.Router) {
			r.Post("/", ingestH.Units)
			r.Post("/async", ingestH.UnitsAsync)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", ingestH.Document)
			r.Delete("/{id}", ingestH.DeleteDocument)
		})
	})

	return r
}
