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

type reactionRequest struct {
	TokenAddress string              `json:"tokenAddress"`
	Emoji        domain.ReactionKind `json:"emoji"`
	Increment    int64               `json:"increment"`
}

// ReactionReact handles POST /emoji/react.
func (a *API) ReactionReact(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.HandleError(w, r, apperr.Validation("invalid JSON body"))
		return
	}

	id, err := a.Reactions.React(ctx, req.TokenAddress, req.Emoji, req.Increment)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, map[string]any{"id": id, "status": "PROCESSING"}, "")
}

// ReactionCounters handles GET /emoji/{tokenAddress}.
func (a *API) ReactionCounters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	token := chi.URLParam(r, "tokenAddress")

	counters, err := a.Reactions.Counts(ctx, token)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, counters, "")
}

// ReactionStream handles GET /emoji/stream/{tokenAddress}.
func (a *API) ReactionStream(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "tokenAddress")

	flusher, ok := writeSSEHeaders(w)
	if !ok {
		httputil.HandleError(w, r, apperr.Invariant("streaming unsupported by this response writer"))
		return
	}

	extendWriteDeadline(w, a.SSEWriteTimeout)
	if err := writeSSEEvent(w, flusher, "connection", map[string]any{"tokenAddress": token}); err != nil {
		return
	}

	counters, err := a.Reactions.Counts(r.Context(), token)
	if err != nil {
		a.Log.Errorf("reaction stream: snapshot for %s: %v", token, err)
		counters = domain.NormalizeReactionCounters(nil)
	}
	extendWriteDeadline(w, a.SSEWriteTimeout)
	if err := writeSSEEvent(w, flusher, "initialEmojiCounts", counters); err != nil {
		return
	}

	messages, unsubscribe := a.SSE.Subscribe(reactionChannel(token))
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
			if err := writeSSERawEvent(w, flusher, "emojiCountUpdate", raw); err != nil {
				return
			}
		}
	}
}

func reactionChannel(tokenAddress string) string {
	return "emojiUpdates:" + domain.LowerAddress(tokenAddress)
}
