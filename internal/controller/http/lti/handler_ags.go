package lti

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	ltipkg "github.com/quipper/poc/lti/tool/pkg/lti"
)

// agsForRequest resolves the launch session and builds an AGS client bound
// to it. Writes the error response itself when the session or registration is
// gone.
func (h *Handler) agsForRequest(w http.ResponseWriter, r *http.Request) (*ltipkg.AGS, bool) {
	launch, ok := h.requireLaunch(w, r)
	if !ok {
		return nil, false
	}
	platform, ok := h.platformForLaunch(w, r, launch)
	if !ok {
		return nil, false
	}
	ags, err := ltipkg.NewAGS(launch, platform.TokenEndpoint, h.tokens, h.httpc)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "noLaunch", "Launch session not found. Re-launch the tool.")
		return nil, false
	}
	return ags, true
}

// writeServiceError maps client-side validation errors to 400, platform
// rejections to their own status, and platform failures to 502 under the
// route's error code.
func writeServiceError(w http.ResponseWriter, err error, code string) {
	switch {
	case errors.Is(err, ltipkg.ErrInvalidScoreMaximum):
		writeJSONError(w, http.StatusBadRequest, "invalidScoreMaximum", err.Error())
	case errors.Is(err, ltipkg.ErrInvalidProgressEnum):
		writeJSONError(w, http.StatusBadRequest, "invalidProgress", err.Error())
	default:
		var ue *ltipkg.UpstreamError
		if errors.As(err, &ue) && ue.Status >= 400 && ue.Status < 500 {
			writeJSONError(w, ue.Status, code, "platform rejected the request")
			return
		}
		writeJSONError(w, http.StatusBadGateway, code, "platform request failed")
	}
}

func (h *Handler) agsListLineItems(w http.ResponseWriter, r *http.Request) {
	ags, ok := h.agsForRequest(w, r)
	if !ok {
		return
	}
	items, err := ags.ListLineItems(r.Context(), r.URL.Query().Get("resource_link_id"))
	if err != nil {
		logger.Error("agsListLineItems: %v", err)
		writeServiceError(w, err, "listLineItemsFailed")
		return
	}
	if items == nil {
		items = []ltipkg.LineItem{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) agsCreateLineItem(w http.ResponseWriter, r *http.Request) {
	launch, ok := h.requireLaunch(w, r)
	if !ok {
		return
	}
	platform, ok := h.platformForLaunch(w, r, launch)
	if !ok {
		return
	}
	label, scoreMaximum, resourceLinkID, ok := createLineItemInput(w, r)
	if !ok {
		return
	}
	if resourceLinkID == "" {
		resourceLinkID = launch.ResourceLink.ID
	}
	ags, err := ltipkg.NewAGS(launch, platform.TokenEndpoint, h.tokens, h.httpc)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "noLaunch", "Launch session not found. Re-launch the tool.")
		return
	}
	created, err := ags.CreateLineItem(r.Context(), label, scoreMaximum, resourceLinkID)
	if err != nil {
		logger.Error("agsCreateLineItem: %v", err)
		writeServiceError(w, err, "createLineItemFailed")
		return
	}
	logger.Debug("agsCreateLineItem: created id=%s label=%s", created.ID, created.Label)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

func (h *Handler) agsDeleteLineItem(w http.ResponseWriter, r *http.Request) {
	ags, ok := h.agsForRequest(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := ags.DeleteLineItem(r.Context(), id); err != nil {
		logger.Error("agsDeleteLineItem: id=%s: %v", id, err)
		writeServiceError(w, err, "deleteLineItemFailed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
}

func (h *Handler) agsSubmitScore(w http.ResponseWriter, r *http.Request) {
	ags, ok := h.agsForRequest(w, r)
	if !ok {
		return
	}
	score, ok := scoreInput(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := ags.SubmitScore(r.Context(), id, score); err != nil {
		logger.Error("agsSubmitScore: id=%s: %v", id, err)
		writeServiceError(w, err, "submitScoreFailed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"submitted": true})
}

// createLineItemInput reads the creation parameters from the query string,
// the route's primary shape, with a JSON body accepted as an alternative when
// no query parameters are present. A bare POST falls back to the demo item.
func createLineItemInput(w http.ResponseWriter, r *http.Request) (label string, scoreMaximum float64, resourceLinkID string, ok bool) {
	q := r.URL.Query()
	if !q.Has("label") && !q.Has("scoreMaximum") && !q.Has("resourceLinkId") {
		var req struct {
			Label          string  `json:"label"`
			ScoreMaximum   float64 `json:"scoreMaximum"`
			ResourceLinkID string  `json:"resourceLinkId"`
		}
		err := json.NewDecoder(r.Body).Decode(&req)
		if err == nil {
			return req.Label, req.ScoreMaximum, req.ResourceLinkID, true
		}
		if !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalidBody", "invalid JSON body")
			return "", 0, "", false
		}
		// No parameters and no body: defaults below.
	}
	label = q.Get("label")
	if label == "" {
		label = "Demo Item"
	}
	scoreMaximum = 1
	if v := q.Get("scoreMaximum"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalidScoreMaximum", "scoreMaximum is not a number")
			return "", 0, "", false
		}
		scoreMaximum = f
	}
	return label, scoreMaximum, q.Get("resourceLinkId"), true
}

// scoreInput assembles the score from query parameters, falling back to a
// JSON body when none are present. Absent query fields take the defaults the
// launch sandbox buttons rely on.
func scoreInput(w http.ResponseWriter, r *http.Request) (ltipkg.Score, bool) {
	q := r.URL.Query()
	if !q.Has("scoreGiven") && !q.Has("scoreMaximum") && !q.Has("activityProgress") && !q.Has("gradingProgress") {
		var body ltipkg.Score
		err := json.NewDecoder(r.Body).Decode(&body)
		if err == nil {
			return body, true
		}
		if !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalidBody", "invalid JSON body")
			return ltipkg.Score{}, false
		}
	}
	score := ltipkg.Score{
		ScoreGiven:       1,
		ScoreMaximum:     1,
		ActivityProgress: "Completed",
		GradingProgress:  "FullyGraded",
	}
	if v := q.Get("scoreGiven"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalidScore", "scoreGiven is not a number")
			return ltipkg.Score{}, false
		}
		score.ScoreGiven = f
	}
	if v := q.Get("scoreMaximum"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalidScoreMaximum", "scoreMaximum is not a number")
			return ltipkg.Score{}, false
		}
		score.ScoreMaximum = f
	}
	if v := q.Get("activityProgress"); v != "" {
		score.ActivityProgress = v
	}
	if v := q.Get("gradingProgress"); v != "" {
		score.GradingProgress = v
	}
	return score, true
}

func (h *Handler) agsListResults(w http.ResponseWriter, r *http.Request) {
	ags, ok := h.agsForRequest(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	results, err := ags.Results(r.Context(), id)
	if err != nil {
		logger.Error("agsListResults: id=%s: %v", id, err)
		writeServiceError(w, err, "getScoresFailed")
		return
	}
	if results == nil {
		results = []ltipkg.Result{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}
