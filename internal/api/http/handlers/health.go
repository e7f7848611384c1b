package handlers

import (
	"context"
	"net/http"
	"time"

	"tokenserver/pkg/httputil"
)

// Health answers liveness: the process is up and serving.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if err := httputil.JSON(w, http.StatusOK, map[string]any{"status": "ok"}, ""); err != nil {
		a.Log.Errorf("health handler: %v", err)
	}
}

// HealthDetailed checks every registered dependency concurrently and
// reports per-dependency status.
func (a *API) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	type result struct {
		name string
		err  error
	}

	results := make(chan result, len(a.Deps))
	for name, dep := range a.Deps {
		go func(name string, dep HealthChecker) {
			results <- result{name: name, err: dep.Health(ctx)}
		}(name, dep)
	}

	statuses := make(map[string]string, len(a.Deps))
	healthy := true
	for range a.Deps {
		r := <-results
		if r.err != nil {
			statuses[r.name] = "unhealthy: " + r.err.Error()
			healthy = false
			continue
		}
		statuses[r.name] = "healthy"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	if err := httputil.JSON(w, status, map[string]any{"dependencies": statuses}, ""); err != nil {
		a.Log.Errorf("health detailed handler: %v", err)
	}
}
