package lti

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	ltipkg "github.com/quipper/poc/lti/tool/pkg/lti"
	platformsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/platforms"
)

// clockSkew tolerated on exp/iat during id_token validation.
const clockSkew = 5 * time.Minute

// launch receives the platform's form_post callback carrying state and
// id_token. The state is consumed before any token work so that a replayed
// request dies on the state check no matter what its token looks like.
func (h *Handler) launch(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	state := r.Form.Get("state")
	idToken := r.Form.Get("id_token")
	logger.Debug("launch: state=%s id_token_len=%d", state, len(idToken))
	if state == "" || idToken == "" {
		writeJSONError(w, http.StatusBadRequest, "invalidLaunch", "missing state or id_token")
		return
	}

	nonce, issuer, _, ok, err := h.validationRepo.ConsumeLaunchState(r.Context(), state)
	if err != nil {
		logger.Error("launch: consume state: %v", err)
		http.Error(w, "failed to consume state", http.StatusInternalServerError)
		return
	}
	if !ok {
		logger.Debug("launch: state not found, used or expired: %s", state)
		writeJSONError(w, http.StatusUnauthorized, "invalidState", "State not found or expired. Restart the launch from the platform.")
		return
	}

	platform, err := h.platforms.GetPlatformByIssuer(r.Context(), issuer)
	if err != nil {
		logger.Error("launch: platform lookup: %v", err)
		http.Error(w, "repository error", http.StatusInternalServerError)
		return
	}
	if platform == nil {
		logger.Debug("launch: issuer no longer registered: %s", issuer)
		writeJSONError(w, http.StatusUnauthorized, "unknownIssuer", "no registration for issuer")
		return
	}

	tok, ok := h.verifyIDToken(w, r, platform, idToken, nonce)
	if !ok {
		return
	}

	lc := ltipkg.Normalize(tok, platform.Issuer, platform.ClientID)
	if lc.DeploymentID == "" || lc.MessageType == "" {
		logger.Debug("launch: token missing deployment_id or message_type")
		writeJSONError(w, http.StatusUnauthorized, "invalidToken", "id_token missing required LTI claims")
		return
	}
	if platform.DeploymentIDs != "" && !csvContains(platform.DeploymentIDs, lc.DeploymentID) {
		logger.Debug("launch: deployment %s not in allowed set %s", lc.DeploymentID, platform.DeploymentIDs)
		writeJSONError(w, http.StatusUnauthorized, "invalidToken", "deployment_id not allowed for this platform")
		return
	}

	ltik := h.sessions.Put(lc)
	http.SetCookie(w, &http.Cookie{
		Name:     "ltik",
		Value:    ltik,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
	logger.Info("launch: validated iss=%s sub=%s type=%s deployment=%s", lc.Issuer, lc.UserID, lc.MessageType, lc.DeploymentID)

	if lc.IsDeepLinking() {
		http.Redirect(w, r, "/deeplink?ltik="+ltik, http.StatusFound)
		return
	}
	h.renderLaunchPage(w, lc, ltik)
}

// verifyIDToken runs the full signature and claim validation against the
// platform registration. It writes the error response itself and reports ok.
func (h *Handler) verifyIDToken(w http.ResponseWriter, r *http.Request, platform *platformsRepo.Platform, idToken, nonce string) (jwt.Token, bool) {
	kid, err := tokenKid(idToken)
	if err != nil {
		logger.Debug("launch: unparseable JWS: %v", err)
		writeJSONError(w, http.StatusUnauthorized, "invalidToken", "id_token is not a valid JWT")
		return nil, false
	}

	set, err := h.jwksCache.Get(r.Context(), platform.KeySetURL)
	if err != nil {
		logger.Error("launch: JWKS fetch %s: %v", platform.KeySetURL, err)
		writeJSONError(w, http.StatusUnauthorized, "invalidToken", "platform key set unavailable")
		return nil, false
	}
	if _, found := set.LookupKeyID(kid); !found {
		// Platform may have rotated keys since our last fetch. One forced
		// refresh; a kid still missing after that is a hard failure.
		logger.Debug("launch: kid %s not cached, forcing JWKS refresh", kid)
		set, err = h.jwksCache.Refresh(r.Context(), platform.KeySetURL)
		if err != nil {
			logger.Error("launch: JWKS refresh %s: %v", platform.KeySetURL, err)
			writeJSONError(w, http.StatusUnauthorized, "invalidToken", "platform key set unavailable")
			return nil, false
		}
		if _, found := set.LookupKeyID(kid); !found {
			logger.Debug("launch: kid %s unknown after refresh", kid)
			writeJSONError(w, http.StatusUnauthorized, "invalidToken", "unknown signing key")
			return nil, false
		}
	}

	tok, err := jwt.Parse([]byte(idToken),
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(clockSkew),
		jwt.WithIssuer(platform.Issuer),
		jwt.WithAudience(platform.ClientID),
	)
	if err != nil {
		logger.Debug("launch: id_token validation failed: %v", err)
		writeJSONError(w, http.StatusUnauthorized, "invalidToken", "id_token validation failed")
		return nil, false
	}

	// With multiple audiences azp must name us explicitly.
	if aud := tok.Audience(); len(aud) > 1 {
		azp, _ := tok.Get("azp")
		if azpStr, _ := azp.(string); azpStr != platform.ClientID {
			logger.Debug("launch: azp mismatch: %v", azp)
			writeJSONError(w, http.StatusUnauthorized, "invalidToken", "azp does not match client_id")
			return nil, false
		}
	}

	tokNonce, _ := tok.Get("nonce")
	if nonceStr, _ := tokNonce.(string); nonceStr == "" || nonceStr != nonce {
		logger.Debug("launch: nonce mismatch")
		writeJSONError(w, http.StatusUnauthorized, "invalidToken", "nonce does not match login state")
		return nil, false
	}
	return tok, true
}

// tokenKid reads the kid from the protected JWS header without verifying.
func tokenKid(raw string) (string, error) {
	msg, err := jws.Parse([]byte(raw))
	if err != nil {
		return "", err
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return "", errors.New("jws message has no signatures")
	}
	return sigs[0].ProtectedHeaders().KeyID(), nil
}

func csvContains(csv, want string) bool {
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == want {
			return true
		}
	}
	return false
}

// renderLaunchPage shows a minimal landing page with the launch identity and
// the ltik-parameterized service links, mirroring what an embedding frontend
// would consume as JSON.
func (h *Handler) renderLaunchPage(w http.ResponseWriter, lc *ltipkg.LaunchContext, ltik string) {
	esc := template.HTMLEscapeString
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := `<!DOCTYPE html>
<html>
  <head><meta charset="utf-8"/><title>Tool Launch</title></head>
  <body>
    <h1>Launch OK</h1>
    <p>user: ` + esc(lc.Name) + ` (` + esc(lc.UserID) + `)</p>
    <p>context: ` + esc(lc.Context.Title) + ` (` + esc(lc.Context.ID) + `)</p>
    <p>resource link: ` + esc(lc.ResourceLink.ID) + `</p>
    <p>roles: ` + esc(strings.Join(lc.Roles, ", ")) + `</p>
    <ul>
      <li><a href="/ags/lineitems?ltik=` + esc(ltik) + `">line items</a></li>
      <li><a href="/nrps/members?ltik=` + esc(ltik) + `">members</a></li>
    </ul>
  </body>
</html>`
	_, _ = w.Write([]byte(page))
}
