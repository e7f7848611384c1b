// Package handlers adapts the engine layer (comments, reactions,
// watchlist, tokenrepo, scanner, launchpad) onto HTTP, translating apperr
// kinds at the boundary via pkg/httputil. Grounded on the teacher's thin
// *Handler-struct-with-injected-service pattern (internal/api/http/handlers/health.go),
// generalized from one AggregatorService dependency to the full set of
// engines this domain needs.
package handlers

import (
	"context"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"tokenserver/internal/comments"
	"tokenserver/internal/launchpad"
	"tokenserver/internal/reactions"
	"tokenserver/internal/scanner"
	"tokenserver/internal/sse"
	"tokenserver/internal/tokenrepo"
	"tokenserver/internal/watchlist"
)

// HealthChecker is implemented by every external dependency whose
// liveness /health/detailed reports on.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type API struct {
	Log logger.Logger

	Watchlist *watchlist.Engine
	Comments  *comments.Engine
	Reactions *reactions.Engine
	Tokens    *tokenrepo.Repository
	Scanner   *scanner.Scanner
	Feed      *launchpad.Handler
	SSE       *sse.Hub

	Deps map[string]HealthChecker

	// SSEWriteTimeout bounds each individual frame write on a streaming
	// response (extended via http.ResponseController per write). It takes
	// the place of a server-wide WriteTimeout, which server.go leaves unset
	// so long-lived connections are not cut off.
	SSEWriteTimeout time.Duration
}

func NewAPI(
	log logger.Logger,
	watchlistEngine *watchlist.Engine,
	commentsEngine *comments.Engine,
	reactionsEngine *reactions.Engine,
	tokens *tokenrepo.Repository,
	scannerSvc *scanner.Scanner,
	feed *launchpad.Handler,
	hub *sse.Hub,
	deps map[string]HealthChecker,
	sseWriteTimeout time.Duration,
) *API {
	return &API{
		Log:             log,
		Watchlist:       watchlistEngine,
		Comments:        commentsEngine,
		Reactions:       reactionsEngine,
		Tokens:          tokens,
		Scanner:         scannerSvc,
		Feed:            feed,
		SSE:             hub,
		Deps:            deps,
		SSEWriteTimeout: sseWriteTimeout,
	}
}

const requestTimeout = 15 * time.Second

// parseIntDefault parses s as a non-negative int, falling back to def on
// empty or malformed input.
func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}
