package http

import (
	"tokenserver/internal/api/http/handlers"
	"tokenserver/internal/api/http/mw"
	"tokenserver/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BuildRouter wires the full route table of spec.md §6 under /api/v1, plus
// unauthenticated liveness and metrics endpoints outside it. There is no
// JWT middleware: this domain has no authenticated principal.
func BuildRouter(
	api *handlers.API,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if gzipMW != nil {
		r.Use(gzipMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	r.Get("/health", api.Health)
	r.Get("/health/detailed", api.HealthDetailed)
	r.Mount("/metrics", metrics.Handler())

	v1 := chi.NewRouter()
	if rateLimitMW != nil {
		v1.Use(rateLimitMW.Handler)
	}

	v1.Route("/watchlist", func(wr chi.Router) {
		wr.Post("/add", api.WatchlistAdd)
		wr.Delete("/remove", api.WatchlistRemove)
		wr.Get("/get", api.WatchlistGet)
		wr.Get("/check/{wallet}/{token}", api.WatchlistCheck)
		wr.Get("/count/{wallet}", api.WatchlistCount)
	})

	v1.Route("/comments", func(cr chi.Router) {
		cr.Post("/", api.CommentCreate)
		cr.Get("/{tokenAddress}", api.CommentsList)
		cr.Get("/stream/{tokenAddress}", api.CommentsStream)
	})

	v1.Route("/emoji", func(er chi.Router) {
		er.Post("/react", api.ReactionReact)
		er.Get("/{tokenAddress}", api.ReactionCounters)
		er.Get("/stream/{tokenAddress}", api.ReactionStream)
	})

	v1.Route("/new-tokens", func(nr chi.Router) {
		nr.Get("/tokens", api.NewTokensList)
		nr.Get("/tokens/stream", api.NewTokensStream)
	})

	v1.Route("/tokens", func(tr chi.Router) {
		tr.Get("/", api.TokensList)
		tr.Get("/zora", api.TokensZora)
		tr.Get("/tba", api.TokensTBA)
		tr.Get("/metadata", api.TokensMetadata)
		tr.Post("/scan", api.TokensScan)
	})

	r.Mount("/api/v1", v1)
	return r
}
