package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"keysync/pkg/apperr"
	"keysync/services/store"
)

func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	clients, err := a.engine.ListClients(r.Context(), search)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, clients)
}

func (a *API) handleCreateClients(w http.ResponseWriter, r *http.Request) {
	var specs clientSpecs
	if err := decodeJSON(r, &specs); err != nil {
		respondError(w, r, err)
		return
	}
	if len(specs) == 0 {
		respondError(w, r, invalidInput(errors.New("clients must not be empty")))
		return
	}

	results, err := a.engine.CreateOrReactivateClients(r.Context(), specs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"results": results})
}

func (a *API) handleDeleteClients(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientIDs stringList `json:"client_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	ids, err := req.ClientIDs.normalize("client_ids")
	if err != nil {
		respondError(w, r, invalidInput(err))
		return
	}

	results, err := a.engine.DeleteClients(r.Context(), ids)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *API) handleClientHistory(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(chi.URLParam(r, "client_id"))
	history, err := a.history.ClientHistory(r.Context(), clientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, apperr.New(apperr.KindNotFound, apperr.MsgClientNotFound, apperr.ClientNotFoundDB))
		return
	case err != nil:
		respondError(w, r, apperr.Newf(apperr.KindPersistence, err, apperr.MsgDBSaveError, apperr.ClientHistoryFetchFailed))
		return
	}
	respondJSON(w, http.StatusOK, history)
}
