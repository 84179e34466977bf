package lti

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	platformsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/platforms"
)

func (h *Handler) listPlatforms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	items, err := h.platforms.ListPlatforms(r.Context())
	if err != nil {
		logger.Error("list platforms: %v", err)
		http.Error(w, "failed to list platforms", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*platformsRepo.Platform{}
	}
	logger.Debug("listPlatforms: returned %d items", len(items))
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) upsertPlatform(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req platformsRepo.Platform
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug("upsertPlatform: invalid JSON: %v", err)
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Issuer) == "" || strings.TrimSpace(req.ClientID) == "" ||
		strings.TrimSpace(req.AuthEndpoint) == "" || strings.TrimSpace(req.TokenEndpoint) == "" ||
		strings.TrimSpace(req.KeySetURL) == "" {
		http.Error(w, "issuer, client_id, auth_endpoint, token_endpoint and key_set_url are required", http.StatusBadRequest)
		return
	}
	outcome, err := h.platforms.UpsertPlatform(r.Context(), &req)
	if err != nil {
		logger.Error("upsert platform %s: %v", req.Issuer, err)
		http.Error(w, "failed to upsert platform", http.StatusInternalServerError)
		return
	}
	status := "updated"
	if outcome == platformsRepo.OutcomeCreated {
		status = "created"
	}
	logger.Info("upsertPlatform: %s issuer=%s id=%d", status, req.Issuer, req.ID)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     req.ID,
		"status": status,
	})
}

func (h *Handler) deletePlatformByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		logger.Debug("deletePlatformByID: invalid id=%q", idStr)
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.platforms.DeletePlatformByID(r.Context(), id); err != nil {
		logger.Error("delete platform by id %d: %v", id, err)
		http.Error(w, "failed to delete platform", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	logger.Debug("deletePlatformByID: deleted id=%d", id)
}
