package lti

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	"github.com/quipper/poc/lti/tool/pkg/common/tokencache"
)

const mediaMembershipContainer = "application/vnd.ims.lti-nrps.v2.membershipcontainer+json"

// Member is one NRPS roster entry.
type Member struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name,omitempty"`
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Status     string   `json:"status,omitempty"`
}

// MembersPage is one page of the membership container. NextPage carries the
// platform's rel="next" link so callers can continue instead of silently
// truncating.
type MembersPage struct {
	ID       string   `json:"id,omitempty"`
	Context  Context  `json:"context"`
	Members  []Member `json:"members"`
	NextPage string   `json:"next_page,omitempty"`
}

// NRPS performs Names & Roles Provisioning Service calls for one launch.
type NRPS struct {
	launch   *LaunchContext
	tokenURL string
	tokens   *tokencache.Cache
	httpc    *http.Client
}

// NewNRPS binds an NRPS client to a validated launch.
func NewNRPS(launch *LaunchContext, tokenURL string, tokens *tokencache.Cache, httpc *http.Client) (*NRPS, error) {
	if launch == nil {
		return nil, ErrNoActiveLaunch
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &NRPS{launch: launch, tokenURL: tokenURL, tokens: tokens, httpc: httpc}, nil
}

// ListMembers fetches one page of the context membership. It fails hard when
// the launch carries no memberships URL; guessing an endpoint risks reading
// the wrong context's roster.
func (n *NRPS) ListMembers(ctx context.Context, limit, offset int) (*MembersPage, error) {
	membershipsURL := n.launch.NamesRolesURL
	if membershipsURL == "" {
		return nil, ErrMembershipsURLMissing
	}
	u, err := url.Parse(membershipsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = q.Encode()

	bearer, err := n.tokens.Bearer(ctx, n.tokenURL, n.launch.ClientID, []string{ScopeMemberships})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", mediaMembershipContainer)

	resp, err := n.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		logger.Debug("NRPS members failed: status=%d body=%s", resp.StatusCode, string(body))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var page MembersPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	if page.Members == nil {
		page.Members = []Member{}
	}
	page.NextPage = nextLink(resp.Header)
	return &page, nil
}

// nextLink extracts the rel="next" target from a Link header, if any.
func nextLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			segs := strings.Split(part, ";")
			if len(segs) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segs[0]), "<>")
			for _, attr := range segs[1:] {
				attr = strings.TrimSpace(attr)
				if attr == `rel="next"` || attr == "rel=next" {
					return target
				}
			}
		}
	}
	return ""
}
