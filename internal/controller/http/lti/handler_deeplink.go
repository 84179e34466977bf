package lti

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/quipper/poc/lti/tool/pkg/common/keys"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	ltipkg "github.com/quipper/poc/lti/tool/pkg/lti"
	selectionsRepo "github.com/quipper/poc/lti/tool/pkg/repositories/selections"
)

// deeplinkPicker renders the content selection form for a deep linking
// launch. The ltik travels through the form so the submit lands back on the
// same session.
func (h *Handler) deeplinkPicker(w http.ResponseWriter, r *http.Request) {
	launch, ok := h.requireLaunch(w, r)
	if !ok {
		return
	}
	if !launch.IsDeepLinking() || launch.DeepLinking == nil {
		writeJSONError(w, http.StatusBadRequest, "notDeepLinking", "active launch is not a deep linking request")
		return
	}
	esc := template.HTMLEscapeString
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := `<!DOCTYPE html>
<html>
  <head><meta charset="utf-8"/><title>Select Content</title></head>
  <body>
    <h1>Select Content</h1>
    <p>platform: ` + esc(launch.Issuer) + `</p>
    <form method="post" action="/deeplink?ltik=` + esc(ltikFromRequest(r)) + `">
      <label>Title <input type="text" name="title" value="Sample Activity"/></label><br/>
      <label>URL <input type="text" name="url" value="` + esc(h.baseURL) + `/launch"/></label><br/>
      <label>Max score (optional, creates a gradable item) <input type="text" name="score_maximum" value=""/></label><br/>
      <button type="submit">Send to platform</button>
    </form>
  </body>
</html>`
	_, _ = w.Write([]byte(page))
}

// deeplinkSubmit builds and signs the deep linking response JWT for the
// chosen content item, persists the selection, and auto-submits the JWT back
// to the platform's return URL.
func (h *Handler) deeplinkSubmit(w http.ResponseWriter, r *http.Request) {
	launch, ok := h.requireLaunch(w, r)
	if !ok {
		return
	}
	if launch.DeepLinking == nil || launch.DeepLinking.ReturnURL == "" {
		writeJSONError(w, http.StatusBadRequest, "notDeepLinking", "launch carries no deep linking return URL")
		return
	}

	_ = r.ParseForm()
	title := r.Form.Get("title")
	itemURL := r.Form.Get("url")
	if itemURL == "" {
		itemURL = h.baseURL + "/launch"
	}

	contentItem := map[string]any{
		"type":  "ltiResourceLink",
		"title": title,
		"url":   itemURL,
	}
	// An optional max score turns the item gradable: the platform creates the
	// line item itself from the embedded lineItem object.
	if maxStr := r.Form.Get("score_maximum"); maxStr != "" {
		if max, err := strconv.ParseFloat(maxStr, 64); err == nil && max > 0 {
			contentItem["lineItem"] = map[string]any{
				"label":        title,
				"scoreMaximum": max,
			}
		}
	}

	signed, err := h.signDeepLinkingResponse(launch, []map[string]any{contentItem})
	if err != nil {
		logger.Error("deeplinkSubmit: sign response: %v", err)
		http.Error(w, "failed to sign deep linking response", http.StatusInternalServerError)
		return
	}

	itemJSON, _ := json.Marshal(contentItem)
	if _, err := h.selections.CreateSelection(r.Context(), &selectionsRepo.Selection{
		ClientID:        launch.ClientID,
		Title:           title,
		URL:             itemURL,
		ContentItemJSON: string(itemJSON),
	}); err != nil {
		// Selection history is bookkeeping; the platform round-trip matters more.
		logger.Error("deeplinkSubmit: persist selection: %v", err)
	}

	logger.Info("deeplinkSubmit: returning item url=%s to %s", itemURL, launch.DeepLinking.ReturnURL)
	esc := template.HTMLEscapeString
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := `<!DOCTYPE html>
<html><body onload="document.forms[0].submit()">
<form method="post" action="` + esc(launch.DeepLinking.ReturnURL) + `">
<input type="hidden" name="JWT" value="` + esc(signed) + `"/>
<noscript><button type="submit">Continue</button></noscript>
</form></body></html>`
	_, _ = w.Write([]byte(page))
}

// signDeepLinkingResponse creates the LtiDeepLinkingResponse JWT. The roles
// invert from the launch: the tool is the issuer, the platform the audience,
// and the platform's opaque data claim is echoed verbatim when present.
func (h *Handler) signDeepLinkingResponse(launch *ltipkg.LaunchContext, items []map[string]any) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Issuer(launch.ClientID).
		Audience([]string{launch.Issuer}).
		IssuedAt(now).
		Expiration(now.Add(5 * time.Minute)).
		Claim("nonce", uuid.NewString()).
		Claim(ltipkg.ClaimMessageType, ltipkg.MessageTypeDeepLinkingResponse).
		Claim(ltipkg.ClaimVersion, "1.3.0").
		Claim(ltipkg.ClaimDeploymentID, launch.DeploymentID).
		Claim(ltipkg.ClaimContentItems, items)
	if launch.DeepLinking.Data != "" {
		builder = builder.Claim(ltipkg.ClaimDLData, launch.DeepLinking.Data)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", err
	}
	key, err := keys.SigningKey()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}
