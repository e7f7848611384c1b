package http

import (
	"context"
	"fmt"
	"net/http"

	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/api/http/handlers"
	"tokenserver/internal/api/http/mw"
	"tokenserver/internal/config"
)

// Server wraps the chi router in a configured *http.Server. Grounded on the
// teacher's Server struct (log+cfg fields, constructor injection), trimmed
// of the JWT/Redis/ClickHouse/NATS fields the teacher held directly: this
// layer only needs the already-built router and timeouts off config.
type Server struct {
	log logger.Logger
	cfg *config.Config
	srv *http.Server
}

func NewServer(
	log logger.Logger,
	cfg *config.Config,
	api *handlers.API,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	corsMW *mw.CORSMiddleware,
) *Server {
	router := BuildRouter(api, logMW, gzipMW, rateLimitMW, corsMW)

	// WriteTimeout is intentionally not set on the server: it would cut off
	// every open SSE stream after one timeout window. Streaming handlers
	// extend their own per-write deadline via http.ResponseController using
	// httpCfg.SSEWriteTimeout instead (handlers.API.SSEWriteTimeout).
	httpCfg := cfg.API.HTTP
	srv := &http.Server{
		Addr:        httpCfg.Addr,
		Handler:     router,
		ReadTimeout: httpCfg.ReadTimeout,
		IdleTimeout: httpCfg.IdleTimeout,
	}

	return &Server{log: log, cfg: cfg, srv: srv}
}

// Start serves on the configured address. It returns on any error other
// than http.ErrServerClosed (the expected error from a graceful Shutdown).
func (s *Server) Start() error {
	s.log.Infof("http server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests (including open SSE streams) until
// ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
