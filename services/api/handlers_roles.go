package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"keysync/services/reconcile"
)

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(chi.URLParam(r, "client_id"))
	roles, err := a.engine.ListRoles(r.Context(), clientID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"roles":     roles,
	})
}

func (a *API) handleCreateRoles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Clients stringList `json:"clients"`
		Roles   roleInput  `json:"roles"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	clients, err := req.Clients.normalize("clients")
	if err != nil {
		respondError(w, r, invalidInput(err))
		return
	}
	roles, err := req.Roles.normalize()
	if err != nil {
		respondError(w, r, invalidInput(err))
		return
	}

	results, err := a.engine.CreateRoles(r.Context(), clients, roles)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"results": results})
}

func (a *API) handleDeleteRoles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Clients stringList `json:"clients"`
		Roles   stringList `json:"roles"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	clients, err := req.Clients.normalize("clients")
	if err != nil {
		respondError(w, r, invalidInput(err))
		return
	}
	roles, err := req.Roles.normalize("roles")
	if err != nil {
		respondError(w, r, invalidInput(err))
		return
	}

	results, err := a.engine.DeleteRoles(r.Context(), clients, roles)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": reconcile.RoleDeletionMessage,
		"results": results,
	})
}
