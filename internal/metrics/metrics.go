package metrics

import (
	"context"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/nevasik7/alerting/logger"
)

// Handler serves Prometheus's default registry, mounted under /metrics on
// the main router.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ServePPROF starts net/http/pprof on its own listener, separate from the
// public API surface, when addr is non-empty. It never blocks the caller.
func ServePPROF(addr string, log logger.Logger) func(ctx context.Context) error {
	if addr == "" {
		return func(context.Context) error { return nil }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("pprof server: %v", err)
		}
	}()

	return srv.Shutdown
}
