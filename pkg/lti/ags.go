package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	"github.com/quipper/poc/lti/tool/pkg/common/tokencache"
)

// IMS service scopes.
const (
	ScopeLineItem         = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeLineItemReadonly = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopeScore            = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	ScopeResultReadonly   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"
	ScopeMemberships      = "https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly"
)

// AGS media types.
const (
	mediaLineItem          = "application/vnd.ims.lis.v2.lineitem+json"
	mediaLineItemContainer = "application/vnd.ims.lis.v2.lineitemcontainer+json"
	mediaScore             = "application/vnd.ims.lis.v1.score+json"
)

// LineItem mirrors the AGS line item payload. The id is the platform URL of
// the resource; line items are never persisted by the tool.
type LineItem struct {
	ID             string  `json:"id,omitempty"`
	Label          string  `json:"label"`
	ScoreMaximum   float64 `json:"scoreMaximum"`
	ResourceID     string  `json:"resourceId,omitempty"`
	ResourceLinkID string  `json:"resourceLinkId,omitempty"`
	Tag            string  `json:"tag,omitempty"`
}

// Score is the AGS score publish payload.
type Score struct {
	UserID           string  `json:"userId"`
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	ActivityProgress string  `json:"activityProgress"`
	GradingProgress  string  `json:"gradingProgress"`
	Timestamp        string  `json:"timestamp"`
	Comment          string  `json:"comment,omitempty"`
}

// Result is a platform-computed result row for a line item.
type Result struct {
	UserID           string   `json:"userId"`
	ResultScore      *float64 `json:"resultScore,omitempty"`
	ResultMaximum    *float64 `json:"resultMaximum,omitempty"`
	Comment          string   `json:"comment,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	ActivityProgress string   `json:"activityProgress,omitempty"`
	GradingProgress  string   `json:"gradingProgress,omitempty"`
}

var activityProgressValues = map[string]bool{
	"Initialized": true,
	"InProgress":  true,
	"Submitted":   true,
	"Completed":   true,
}

var gradingProgressValues = map[string]bool{
	"NotReady":      true,
	"FullyGraded":   true,
	"Pending":       true,
	"PendingManual": true,
	"Failed":        true,
}

// AGS performs Assignment & Grade Services calls on behalf of one launch.
type AGS struct {
	launch   *LaunchContext
	tokenURL string
	tokens   *tokencache.Cache
	httpc    *http.Client
}

// NewAGS binds an AGS client to a validated launch. The tokenURL is the
// platform's OAuth2 token endpoint from its registration.
func NewAGS(launch *LaunchContext, tokenURL string, tokens *tokencache.Cache, httpc *http.Client) (*AGS, error) {
	if launch == nil {
		return nil, ErrNoActiveLaunch
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &AGS{launch: launch, tokenURL: tokenURL, tokens: tokens, httpc: httpc}, nil
}

// scopes returns the scope set to request: the capability advertised in the
// endpoint claim when present, otherwise the scopes the operation needs.
func (a *AGS) scopes(needed ...string) []string {
	if len(a.launch.Endpoint.Scopes) > 0 {
		return a.launch.Endpoint.Scopes
	}
	return needed
}

// ListLineItems fetches the line items for the launch context, optionally
// filtered by resource link id.
func (a *AGS) ListLineItems(ctx context.Context, resourceLinkID string) ([]LineItem, error) {
	base := a.launch.Endpoint.LineItems
	if base == "" {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Body: "launch carries no lineitems endpoint"}
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if resourceLinkID != "" {
		q := u.Query()
		q.Set("resource_link_id", resourceLinkID)
		u.RawQuery = q.Encode()
	}
	body, err := a.do(ctx, http.MethodGet, u.String(), "", nil, mediaLineItemContainer, a.scopes(ScopeLineItemReadonly, ScopeLineItem))
	if err != nil {
		return nil, err
	}
	var items []LineItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateLineItem creates a line item bound to the resource link.
// scoreMaximum must be positive; this is checked before any upstream call.
func (a *AGS) CreateLineItem(ctx context.Context, label string, scoreMaximum float64, resourceLinkID string) (*LineItem, error) {
	if scoreMaximum <= 0 {
		return nil, ErrInvalidScoreMaximum
	}
	base := a.launch.Endpoint.LineItems
	if base == "" {
		return nil, &UpstreamError{Status: http.StatusBadRequest, Body: "launch carries no lineitems endpoint"}
	}
	payload, err := json.Marshal(LineItem{
		Label:          label,
		ScoreMaximum:   scoreMaximum,
		ResourceLinkID: resourceLinkID,
	})
	if err != nil {
		return nil, err
	}
	body, err := a.do(ctx, http.MethodPost, base, mediaLineItem, payload, mediaLineItem, a.scopes(ScopeLineItem))
	if err != nil {
		return nil, err
	}
	var created LineItem
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteLineItem removes a line item. The identifier may be a fully
// qualified URL (used verbatim) or a bare id resolved against the launch's
// lineitems endpoint.
func (a *AGS) DeleteLineItem(ctx context.Context, idOrURL string) error {
	_, err := a.do(ctx, http.MethodDelete, a.resolveLineItemURL(idOrURL), "", nil, "", a.scopes(ScopeLineItem))
	return err
}

// SubmitScore publishes a score against a line item. The timestamp defaults
// to now (UTC, ISO-8601) and the user to the launching user. Validation
// happens before any upstream call; score submission is never auto-retried.
func (a *AGS) SubmitScore(ctx context.Context, idOrURL string, s Score) error {
	if s.ScoreMaximum <= 0 {
		return ErrInvalidScoreMaximum
	}
	if !activityProgressValues[s.ActivityProgress] || !gradingProgressValues[s.GradingProgress] {
		return ErrInvalidProgressEnum
	}
	if s.Timestamp == "" {
		s.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if s.UserID == "" {
		s.UserID = a.launch.UserID
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	scoreURL := joinPath(a.resolveLineItemURL(idOrURL), "scores")
	_, err = a.do(ctx, http.MethodPost, scoreURL, mediaScore, payload, "", a.scopes(ScopeScore))
	return err
}

// Results fetches the platform results for a line item.
func (a *AGS) Results(ctx context.Context, idOrURL string) ([]Result, error) {
	resultsURL := joinPath(a.resolveLineItemURL(idOrURL), "results")
	body, err := a.do(ctx, http.MethodGet, resultsURL, "", nil, "", a.scopes(ScopeResultReadonly))
	if err != nil {
		return nil, err
	}
	var results []Result
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// resolveLineItemURL applies the id-vs-URL rule: absolute URLs pass verbatim,
// bare ids append to the lineitems endpoint with a single separating slash.
func (a *AGS) resolveLineItemURL(idOrURL string) string {
	if strings.HasPrefix(idOrURL, "http://") || strings.HasPrefix(idOrURL, "https://") {
		return idOrURL
	}
	base := a.launch.Endpoint.LineItems
	if base == "" {
		return idOrURL
	}
	return joinPath(base, idOrURL)
}

func joinPath(base, seg string) string {
	return strings.TrimRight(base, "/") + "/" + seg
}

// do performs one authenticated call. No lock is held while the request is in
// flight; the bearer token comes from the shared single-flight cache.
func (a *AGS) do(ctx context.Context, method, rawURL, contentType string, payload []byte, accept string, scopes []string) ([]byte, error) {
	bearer, err := a.tokens.Bearer(ctx, a.tokenURL, a.launch.ClientID, scopes)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Debug("AGS %s %s failed: status=%d body=%s", method, rawURL, resp.StatusCode, string(respBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
