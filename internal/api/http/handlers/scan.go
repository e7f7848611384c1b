package handlers

import (
	"context"
	"net/http"

	"tokenserver/pkg/httputil"
)

// TokensScan handles POST /tokens/scan: triggers one scan cycle
// synchronously. A scan already in flight is reported, not queued.
func (a *API) TokensScan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, triggered, err := a.Scanner.TryScan(ctx)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	if !triggered {
		httputil.JSON(w, http.StatusOK, map[string]any{"triggered": false}, "a scan is already in progress")
		return
	}
	httputil.JSON(w, http.StatusOK, result, "")
}
