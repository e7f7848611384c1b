package handlers

import (
	"context"
	"net/http"

	"tokenserver/internal/apperr"
	"tokenserver/pkg/httputil"
)

const newTokensChannel = "new-tokens:updates"

type newTokensPage struct {
	Data  any   `json:"data"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// NewTokensList handles GET /new-tokens/tokens?page&limit&offset. offset,
// when present, overrides the page-derived offset.
func (a *API) NewTokensList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	page := parseIntDefault(q.Get("page"), 1)
	limit := parseIntDefault(q.Get("limit"), 20)
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := (page - 1) * limit
	if q.Get("offset") != "" {
		offset = parseIntDefault(q.Get("offset"), offset)
	}

	tokens, total, err := a.Feed.Page(ctx, offset, limit)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newTokensPage{Data: tokens, Total: total, Page: page, Limit: limit}, "")
}

// NewTokensStream handles GET /new-tokens/tokens/stream?initial.
func (a *API) NewTokensStream(w http.ResponseWriter, r *http.Request) {
	initial := parseIntDefault(r.URL.Query().Get("initial"), 100)
	if initial > 100 {
		initial = 100
	}

	flusher, ok := writeSSEHeaders(w)
	if !ok {
		httputil.HandleError(w, r, apperr.Invariant("streaming unsupported by this response writer"))
		return
	}

	extendWriteDeadline(w, a.SSEWriteTimeout)
	if err := writeSSEEvent(w, flusher, "connection", map[string]any{"channel": newTokensChannel}); err != nil {
		return
	}

	snapshot, err := a.Feed.Latest(r.Context(), initial)
	if err != nil {
		a.Log.Errorf("new-tokens stream: snapshot: %v", err)
		snapshot = nil
	}
	extendWriteDeadline(w, a.SSEWriteTimeout)
	if err := writeSSEEvent(w, flusher, "snapshot", snapshot); err != nil {
		return
	}

	messages, unsubscribe := a.SSE.Subscribe(newTokensChannel)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, open := <-messages:
			if !open {
				return
			}
			extendWriteDeadline(w, a.SSEWriteTimeout)
			if err := writeSSERaw(w, flusher, raw); err != nil {
				return
			}
		}
	}
}
