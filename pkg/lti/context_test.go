package lti

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

func launchToken(t *testing.T, claims map[string]any) jwt.Token {
	t.Helper()
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer("https://lms.example.com").
		Subject("user-7").
		Audience([]string{"client-1"}).
		IssuedAt(now).
		Expiration(now.Add(5 * time.Minute))
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	return tok
}

func TestNormalizeResourceLinkLaunch(t *testing.T) {
	tok := launchToken(t, map[string]any{
		ClaimMessageType:   MessageTypeResourceLink,
		ClaimVersion:       "1.3.0",
		ClaimDeploymentID:  "deploy-1",
		ClaimTargetLinkURI: "https://tool.example.com/launch",
		ClaimRoles:         []string{"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Instructor"},
		"name":             "Ada Lovelace",
		"email":            "ada@example.com",
		ClaimResourceLink:  map[string]any{"id": "rl-1", "title": "Quiz 1"},
		ClaimContext:       map[string]any{"id": "course-9", "title": "Algebra"},
		ClaimAGSEndpoint: map[string]any{
			"lineitems": "https://lms.example.com/ags/course-9/lineitems",
			"scope":     []any{ScopeLineItem, ScopeScore},
		},
		ClaimNamesRoles: map[string]any{"context_memberships_url": "https://lms.example.com/nrps/course-9/members"},
	})

	lc := Normalize(tok, "https://lms.example.com", "client-1")
	if lc.MessageType != MessageTypeResourceLink {
		t.Errorf("message type = %q", lc.MessageType)
	}
	if lc.IsDeepLinking() {
		t.Error("resource link launch reported as deep linking")
	}
	if lc.DeploymentID != "deploy-1" {
		t.Errorf("deployment = %q", lc.DeploymentID)
	}
	if lc.UserID != "user-7" || lc.Name != "Ada Lovelace" || lc.Email != "ada@example.com" {
		t.Errorf("identity = %q/%q/%q", lc.UserID, lc.Name, lc.Email)
	}
	if len(lc.Roles) != 1 {
		t.Errorf("roles = %v", lc.Roles)
	}
	if lc.ResourceLink.ID != "rl-1" || lc.ResourceLink.Title != "Quiz 1" {
		t.Errorf("resource link = %+v", lc.ResourceLink)
	}
	if lc.Context.ID != "course-9" {
		t.Errorf("context = %+v", lc.Context)
	}
	if lc.Endpoint.LineItems != "https://lms.example.com/ags/course-9/lineitems" {
		t.Errorf("lineitems endpoint = %q", lc.Endpoint.LineItems)
	}
	if len(lc.Endpoint.Scopes) != 2 {
		t.Errorf("endpoint scopes = %v", lc.Endpoint.Scopes)
	}
	if lc.NamesRolesURL != "https://lms.example.com/nrps/course-9/members" {
		t.Errorf("memberships url = %q", lc.NamesRolesURL)
	}
	if lc.DeepLinking != nil {
		t.Error("unexpected deep linking settings")
	}
}

func TestNormalizeDeepLinkingLaunch(t *testing.T) {
	tok := launchToken(t, map[string]any{
		ClaimMessageType:  MessageTypeDeepLinking,
		ClaimDeploymentID: "deploy-1",
		ClaimDeepLinking: map[string]any{
			"deep_link_return_url": "https://lms.example.com/dl/return",
			"data":                 "opaque-state",
			"accept_types":         []any{"ltiResourceLink"},
			"accept_multiple":      true,
		},
	})

	lc := Normalize(tok, "https://lms.example.com", "client-1")
	if !lc.IsDeepLinking() {
		t.Fatal("deep linking launch not detected")
	}
	if lc.DeepLinking == nil {
		t.Fatal("deep linking settings missing")
	}
	if lc.DeepLinking.ReturnURL != "https://lms.example.com/dl/return" {
		t.Errorf("return url = %q", lc.DeepLinking.ReturnURL)
	}
	if lc.DeepLinking.Data != "opaque-state" {
		t.Errorf("data = %q", lc.DeepLinking.Data)
	}
	if !lc.DeepLinking.AcceptMultiple {
		t.Error("accept_multiple lost")
	}
}

func TestNormalizeAbsentOptionalClaims(t *testing.T) {
	tok := launchToken(t, map[string]any{
		ClaimMessageType:  MessageTypeResourceLink,
		ClaimDeploymentID: "deploy-1",
	})
	lc := Normalize(tok, "https://lms.example.com", "client-1")
	if lc.Endpoint.LineItems != "" || lc.NamesRolesURL != "" || lc.DeepLinking != nil {
		t.Errorf("optional claims not zero-valued: %+v", lc)
	}
	if lc.Issuer != "https://lms.example.com" || lc.ClientID != "client-1" {
		t.Errorf("binding = %q/%q", lc.Issuer, lc.ClientID)
	}
}
