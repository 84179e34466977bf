package lti

import (
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// IMS claim URIs. This is the canonical claim shape the tool reads; no
// alternate fallback paths are probed.
const (
	ClaimMessageType   = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion       = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimRoles         = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimContext       = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResourceLink  = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimAGSEndpoint   = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"
	ClaimNamesRoles    = "https://purl.imsglobal.org/spec/lti-nrps/claim/namesroleservice"
	ClaimDeepLinking   = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ClaimContentItems  = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	ClaimDLData        = "https://purl.imsglobal.org/spec/lti-dl/claim/data"
)

// LTI message types.
const (
	MessageTypeResourceLink        = "LtiResourceLinkRequest"
	MessageTypeDeepLinking         = "LtiDeepLinkingRequest"
	MessageTypeDeepLinkingResponse = "LtiDeepLinkingResponse"
)

// ResourceLink identifies the placement the launch originated from.
type ResourceLink struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Context identifies the course/context of the launch.
type Context struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Endpoint carries the AGS capability advertised by the platform.
type Endpoint struct {
	LineItem  string   `json:"lineitem,omitempty"`
	LineItems string   `json:"lineitems,omitempty"`
	Scopes    []string `json:"scope,omitempty"`
}

// DeepLinkingSettings carries the platform's deep linking request parameters.
type DeepLinkingSettings struct {
	ReturnURL      string   `json:"deep_link_return_url"`
	Data           string   `json:"data,omitempty"`
	AcceptTypes    []string `json:"accept_types,omitempty"`
	AcceptMultiple bool     `json:"accept_multiple,omitempty"`
}

// LaunchContext is the normalized, immutable result of a validated launch.
// It is built once in the launch handler and read concurrently afterwards.
type LaunchContext struct {
	Issuer        string               `json:"issuer"`
	ClientID      string               `json:"client_id"`
	DeploymentID  string               `json:"deployment_id"`
	MessageType   string               `json:"message_type"`
	TargetLinkURI string               `json:"target_link_uri,omitempty"`
	UserID        string               `json:"user_id"`
	Name          string               `json:"name,omitempty"`
	Email         string               `json:"email,omitempty"`
	Roles         []string             `json:"roles,omitempty"`
	ResourceLink  ResourceLink         `json:"resource_link"`
	Context       Context              `json:"context"`
	Endpoint      Endpoint             `json:"endpoint"`
	NamesRolesURL string               `json:"names_roles_url,omitempty"`
	DeepLinking   *DeepLinkingSettings `json:"deep_linking,omitempty"`
}

// IsDeepLinking reports whether the launch is a deep linking request.
func (lc *LaunchContext) IsDeepLinking() bool {
	return lc.MessageType == MessageTypeDeepLinking
}

// Normalize extracts the LTI claims from a verified id_token into a
// LaunchContext. Absent optional claims stay zero-valued; required-claim
// enforcement is left to the caller.
func Normalize(tok jwt.Token, issuer, clientID string) *LaunchContext {
	lc := &LaunchContext{
		Issuer:   issuer,
		ClientID: clientID,
		UserID:   tok.Subject(),
	}
	lc.MessageType = stringClaim(tok, ClaimMessageType)
	lc.DeploymentID = stringClaim(tok, ClaimDeploymentID)
	lc.TargetLinkURI = stringClaim(tok, ClaimTargetLinkURI)
	lc.Name = stringClaim(tok, "name")
	lc.Email = stringClaim(tok, "email")

	if v, ok := tok.Get(ClaimRoles); ok {
		lc.Roles = asStringSlice(v)
	}
	if m := mapClaim(tok, ClaimResourceLink); m != nil {
		lc.ResourceLink = ResourceLink{ID: asString(m["id"]), Title: asString(m["title"])}
	}
	if m := mapClaim(tok, ClaimContext); m != nil {
		lc.Context = Context{ID: asString(m["id"]), Title: asString(m["title"])}
	}
	if m := mapClaim(tok, ClaimAGSEndpoint); m != nil {
		lc.Endpoint = Endpoint{
			LineItem:  asString(m["lineitem"]),
			LineItems: asString(m["lineitems"]),
			Scopes:    asStringSlice(m["scope"]),
		}
	}
	if m := mapClaim(tok, ClaimNamesRoles); m != nil {
		lc.NamesRolesURL = asString(m["context_memberships_url"])
	}
	if m := mapClaim(tok, ClaimDeepLinking); m != nil {
		lc.DeepLinking = &DeepLinkingSettings{
			ReturnURL:   asString(m["deep_link_return_url"]),
			Data:        asString(m["data"]),
			AcceptTypes: asStringSlice(m["accept_types"]),
		}
		if b, ok := m["accept_multiple"].(bool); ok {
			lc.DeepLinking.AcceptMultiple = b
		}
	}
	return lc
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	return asString(v)
}

func mapClaim(tok jwt.Token, name string) map[string]any {
	v, ok := tok.Get(name)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}
