package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tokenserver/internal/apperr"
	"tokenserver/pkg/httputil"
)

type watchlistMutateRequest struct {
	WalletAddress  string   `json:"walletAddress"`
	TokenAddresses []string `json:"tokenAddresses"`
}

// WatchlistAdd handles POST /watchlist/add.
func (a *API) WatchlistAdd(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req watchlistMutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.HandleError(w, r, apperr.Validation("invalid JSON body"))
		return
	}

	added, err := a.Watchlist.Add(ctx, req.WalletAddress, req.TokenAddresses)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, map[string]any{"addedCount": added}, "")
}

// WatchlistRemove handles DELETE /watchlist/remove.
func (a *API) WatchlistRemove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req watchlistMutateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.HandleError(w, r, apperr.Validation("invalid JSON body"))
		return
	}

	removed, err := a.Watchlist.Remove(ctx, req.WalletAddress, req.TokenAddresses)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"removedCount": removed}, "")
}

// WatchlistGet handles GET /watchlist/get?walletAddress&page&limit.
func (a *API) WatchlistGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	wallet := r.URL.Query().Get("walletAddress")
	if wallet == "" {
		httputil.HandleError(w, r, apperr.Validation("walletAddress is required"))
		return
	}
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)

	result, err := a.Watchlist.List(ctx, wallet, page, limit)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result, "")
}

// WatchlistCheck handles GET /watchlist/check/{wallet}/{token}.
func (a *API) WatchlistCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	wallet := chi.URLParam(r, "wallet")
	token := chi.URLParam(r, "token")

	isIn, err := a.Watchlist.Contains(ctx, wallet, token)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"isInWatchlist": isIn}, "")
}

// WatchlistCount handles GET /watchlist/count/{wallet}.
func (a *API) WatchlistCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	wallet := chi.URLParam(r, "wallet")

	count, err := a.Watchlist.Count(ctx, wallet)
	if err != nil {
		httputil.HandleError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"count": count}, "")
}
