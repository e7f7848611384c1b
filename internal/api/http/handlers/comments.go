package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tokenserver/internal/apperr"
	"tokenserver/internal/domain"
	"tokenserver/pkg/httputil"
)

type commentCreateRequest struct {
	TokenAddress  string `json:"tokenAddress"`
	WalletAddress string `json:"walletAddress"`
	Content       string `json:"content"`
}

// CommentCreate handles POST /comments.
func (a *API) CommentCreate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req commentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.HandleError(w, r, apperr.Validation("invalid JSON body"))
		return
	}

	comment, err := a.Comments.Create(ctx, req.TokenAddress, req.WalletAddress, req.Content)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, comment, "")
}

// CommentsList handles GET /comments/{tokenAddress}?limit.
func (a *API) CommentsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	token := chi.URLParam(r, "tokenAddress")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)

	comments, err := a.Comments.Latest(ctx, token, limit)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, comments, "")
}

// CommentsStream handles GET /comments/stream/{tokenAddress}?initial, per
// spec.md §4.14: connection event, snapshot, then forwarded deltas until
// the client disconnects.
func (a *API) CommentsStream(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "tokenAddress")
	initial := parseIntDefault(r.URL.Query().Get("initial"), 50)
	if initial > 100 {
		initial = 100
	}

	flusher, ok := writeSSEHeaders(w)
	if !ok {
		httputil.HandleError(w, r, apperr.Invariant("streaming unsupported by this response writer"))
		return
	}

	extendWriteDeadline(w, a.SSEWriteTimeout)
	if err := writeSSEEvent(w, flusher, "connection", map[string]any{"tokenAddress": token}); err != nil {
		return
	}

	snapshot, err := a.Comments.Latest(r.Context(), token, initial)
	if err != nil {
		a.Log.Errorf("comments stream: snapshot for %s: %v", token, err)
		snapshot = nil
	}
	extendWriteDeadline(w, a.SSEWriteTimeout)
	if err := writeSSEEvent(w, flusher, "initialComments", snapshot); err != nil {
		return
	}

	messages, unsubscribe := a.SSE.Subscribe(commentsChannel(token))
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
			if err := writeSSERawEvent(w, flusher, "newComment", raw); err != nil {
				return
			}
		}
	}
}

func commentsChannel(tokenAddress string) string {
	return "comments:" + domain.LowerAddress(tokenAddress)
}
