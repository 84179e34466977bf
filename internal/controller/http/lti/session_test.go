package lti

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ltipkg "github.com/quipper/poc/lti/tool/pkg/lti"
)

func TestSessionStorePutGet(t *testing.T) {
	s := newSessionStore(time.Minute)
	lc := &ltipkg.LaunchContext{Issuer: "iss", UserID: "user-7"}
	ltik := s.Put(lc)
	got, ok := s.Get(ltik)
	if !ok || got.UserID != "user-7" {
		t.Fatalf("get: ok=%v got=%+v", ok, got)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("unknown ltik resolved")
	}
	if _, ok := s.Get(""); ok {
		t.Fatal("empty ltik resolved")
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	s := newSessionStore(10 * time.Millisecond)
	ltik := s.Put(&ltipkg.LaunchContext{UserID: "user-7"})
	time.Sleep(20 * time.Millisecond)
	if _, ok := s.Get(ltik); ok {
		t.Fatal("expired session still resolves")
	}
}

func TestLtikFromRequestPrecedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/ags/lineitems?ltik=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	r.AddCookie(&http.Cookie{Name: "ltik", Value: "from-cookie"})
	if got := ltikFromRequest(r); got != "from-query" {
		t.Fatalf("got %q, want query value", got)
	}

	r = httptest.NewRequest("GET", "/ags/lineitems", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	r.AddCookie(&http.Cookie{Name: "ltik", Value: "from-cookie"})
	if got := ltikFromRequest(r); got != "from-header" {
		t.Fatalf("got %q, want header value", got)
	}

	r = httptest.NewRequest("GET", "/ags/lineitems", nil)
	r.AddCookie(&http.Cookie{Name: "ltik", Value: "from-cookie"})
	if got := ltikFromRequest(r); got != "from-cookie" {
		t.Fatalf("got %q, want cookie value", got)
	}

	r = httptest.NewRequest("GET", "/ags/lineitems", nil)
	if got := ltikFromRequest(r); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
