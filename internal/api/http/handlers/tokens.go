package handlers

import (
	"net/http"

	"tokenserver/internal/apperr"
	"tokenserver/internal/domain"
	"tokenserver/pkg/httputil"
)

// TokensList handles GET /tokens: both partitions concatenated.
func (a *API) TokensList(w http.ResponseWriter, r *http.Request) {
	records := a.Tokens.All()
	if len(records) == 0 {
		httputil.HandleError(w, r, apperr.NotFound("no tokens discovered yet"))
		return
	}
	httputil.JSON(w, http.StatusOK, records, "")
}

// TokensZora handles GET /tokens/zora: spec.md §6's alias for the Primary
// appType partition.
func (a *API) TokensZora(w http.ResponseWriter, r *http.Request) {
	a.tokensByAppType(w, r, domain.AppTypePrimary, "zora")
}

// TokensTBA handles GET /tokens/tba: spec.md §6's alias for the Paired
// appType partition.
func (a *API) TokensTBA(w http.ResponseWriter, r *http.Request) {
	a.tokensByAppType(w, r, domain.AppTypePaired, "tba")
}

func (a *API) tokensByAppType(w http.ResponseWriter, r *http.Request, appType domain.AppType, alias string) {
	records := a.Tokens.ByPartition(appType)
	if len(records) == 0 {
		httputil.HandleError(w, r, apperr.NotFound("no "+alias+" tokens discovered yet"))
		return
	}
	httputil.JSON(w, http.StatusOK, records, "")
}

// TokensMetadata handles GET /tokens/metadata: both partitions' metadata.
func (a *API) TokensMetadata(w http.ResponseWriter, r *http.Request) {
	meta := a.Tokens.Meta()
	if len(meta) == 0 {
		httputil.HandleError(w, r, apperr.NotFound("no partition metadata yet"))
		return
	}
	httputil.JSON(w, http.StatusOK, meta, "")
}
