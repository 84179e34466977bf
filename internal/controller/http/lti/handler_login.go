package lti

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
)

// stateTTL bounds how long a login state stays redeemable. The platform
// redirect normally completes within seconds; ten minutes absorbs slow
// consent screens without leaving states around indefinitely.
const stateTTL = 10 * time.Minute

// loginInitiate handles the platform's third-party initiated login. It mints
// a single-use state/nonce pair, persists it, and redirects the browser to
// the platform's authorization endpoint.
func (h *Handler) loginInitiate(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	iss := firstNonEmpty(r.Form.Get("iss"), r.URL.Query().Get("iss"))
	loginHint := firstNonEmpty(r.Form.Get("login_hint"), r.URL.Query().Get("login_hint"))
	targetLinkURI := firstNonEmpty(r.Form.Get("target_link_uri"), r.URL.Query().Get("target_link_uri"))
	clientID := firstNonEmpty(r.Form.Get("client_id"), r.URL.Query().Get("client_id"))
	messageHint := firstNonEmpty(r.Form.Get("lti_message_hint"), r.URL.Query().Get("lti_message_hint"))

	logger.Debug("loginInitiate: iss=%s client_id=%s target=%s", iss, clientID, targetLinkURI)
	if iss == "" || loginHint == "" {
		writeJSONError(w, http.StatusBadRequest, "invalidLogin", "missing iss or login_hint")
		return
	}

	platform, err := h.platforms.GetPlatformByIssuer(r.Context(), iss)
	if err != nil {
		logger.Error("loginInitiate: platform lookup: %v", err)
		http.Error(w, "repository error", http.StatusInternalServerError)
		return
	}
	if platform == nil {
		logger.Debug("loginInitiate: unknown platform iss=%s", iss)
		writeJSONError(w, http.StatusBadRequest, "unknownPlatform", "no registration for issuer")
		return
	}
	// The login may carry a client_id; when it does it must match the
	// registration, otherwise a misconfigured platform would get an id_token
	// validated against the wrong audience later.
	if clientID != "" && clientID != platform.ClientID {
		logger.Debug("loginInitiate: client_id mismatch got=%s want=%s", clientID, platform.ClientID)
		writeJSONError(w, http.StatusBadRequest, "unknownPlatform", "client_id does not match registration")
		return
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	if err := h.validationRepo.CreateLaunchState(r.Context(), state, nonce, platform.Issuer, targetLinkURI, time.Now().Add(stateTTL)); err != nil {
		logger.Error("loginInitiate: persist state: %v", err)
		http.Error(w, "failed to persist login state", http.StatusInternalServerError)
		return
	}

	authURL, err := url.Parse(platform.AuthEndpoint)
	if err != nil {
		logger.Error("loginInitiate: bad auth endpoint %q: %v", platform.AuthEndpoint, err)
		http.Error(w, "platform registration has invalid auth endpoint", http.StatusInternalServerError)
		return
	}
	q := authURL.Query()
	q.Set("scope", "openid")
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	q.Set("client_id", platform.ClientID)
	q.Set("redirect_uri", h.baseURL+"/launch")
	q.Set("login_hint", loginHint)
	q.Set("state", state)
	q.Set("nonce", nonce)
	if messageHint != "" {
		q.Set("lti_message_hint", messageHint)
	}
	authURL.RawQuery = q.Encode()

	logger.Debug("loginInitiate: redirecting state=%s to %s", state, platform.AuthEndpoint)
	http.Redirect(w, r, authURL.String(), http.StatusFound)
}
