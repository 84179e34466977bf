package lti

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	ltipkg "github.com/quipper/poc/lti/tool/pkg/lti"
)

// nrpsListMembers proxies one page of the platform roster for the active
// launch. Pagination is surfaced as next_page in the response body.
func (h *Handler) nrpsListMembers(w http.ResponseWriter, r *http.Request) {
	launch, ok := h.requireLaunch(w, r)
	if !ok {
		return
	}
	platform, ok := h.platformForLaunch(w, r, launch)
	if !ok {
		return
	}
	nrps, err := ltipkg.NewNRPS(launch, platform.TokenEndpoint, h.tokens, h.httpc)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "noLaunch", "Launch session not found. Re-launch the tool.")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	page, err := nrps.ListMembers(r.Context(), limit, offset)
	if err != nil {
		if errors.Is(err, ltipkg.ErrMembershipsURLMissing) {
			logger.Debug("nrpsListMembers: launch has no memberships URL")
			writeJSONError(w, http.StatusBadRequest, "nrpsUrlMissing", "launch carries no names and role service endpoint")
			return
		}
		logger.Error("nrpsListMembers: %v", err)
		writeJSONError(w, http.StatusBadGateway, "nrpsMembersFailed", "platform request failed")
		return
	}
	logger.Debug("nrpsListMembers: returned %d members next=%q", len(page.Members), page.NextPage)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}
