package lti

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	selectionsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/selections"
)

func (h *Handler) listSelections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	items, err := h.selections.ListSelections(r.Context())
	if err != nil {
		logger.Error("list selections: %v", err)
		http.Error(w, "failed to list selections", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*selectionsRepo.Selection{}
	}
	logger.Debug("listSelections: returned %d items", len(items))
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) getSelectionByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		logger.Debug("getSelectionByID: invalid id=%q", idStr)
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	item, err := h.selections.GetSelectionByID(r.Context(), id)
	if err != nil {
		logger.Error("get selection by id %d: %v", id, err)
		http.Error(w, "failed to get selection", http.StatusInternalServerError)
		return
	}
	if item == nil {
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(item)
}

func (h *Handler) deleteSelectionByID(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		logger.Debug("deleteSelectionByID: invalid id=%q", idStr)
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.selections.DeleteSelectionByID(r.Context(), id); err != nil {
		logger.Error("delete selection by id %d: %v", id, err)
		http.Error(w, "failed to delete selection", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	logger.Debug("deleteSelectionByID: deleted id=%d", id)
}
