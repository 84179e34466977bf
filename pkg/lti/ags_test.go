package lti

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/quipper/poc/lti/tool/pkg/common/tokencache"
)

// fakePlatform serves the token endpoint plus AGS routes and records what the
// client sent.
type fakePlatform struct {
	srv        *httptest.Server
	tokenHits  int32
	lastMethod string
	lastPath   string
	lastAuth   string
	lastBody   []byte
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	f := &fakePlatform{}
	r := chi.NewRouter()
	r.Post("/token", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&f.tokenHits, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "svc-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	record := func(w http.ResponseWriter, req *http.Request) {
		f.lastMethod = req.Method
		f.lastPath = req.URL.Path
		f.lastAuth = req.Header.Get("Authorization")
		body, _ := io.ReadAll(req.Body)
		f.lastBody = body
	}
	r.Get("/lineitems", func(w http.ResponseWriter, req *http.Request) {
		record(w, req)
		w.Header().Set("Content-Type", "application/vnd.ims.lis.v2.lineitemcontainer+json")
		_ = json.NewEncoder(w).Encode([]LineItem{{ID: f.srv.URL + "/lineitems/42", Label: "Quiz", ScoreMaximum: 10}})
	})
	r.Post("/lineitems", func(w http.ResponseWriter, req *http.Request) {
		record(w, req)
		var li LineItem
		_ = json.Unmarshal(f.lastBody, &li)
		li.ID = f.srv.URL + "/lineitems/43"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(li)
	})
	r.Delete("/lineitems/{id}", func(w http.ResponseWriter, req *http.Request) {
		record(w, req)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/other/li/7", func(w http.ResponseWriter, req *http.Request) {
		record(w, req)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/lineitems/{id}/scores", func(w http.ResponseWriter, req *http.Request) {
		record(w, req)
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/lineitems/{id}/results", func(w http.ResponseWriter, req *http.Request) {
		record(w, req)
		score := 7.5
		_ = json.NewEncoder(w).Encode([]Result{{UserID: "user-7", ResultScore: &score}})
	})
	r.Get("/forbidden/lineitems", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient_scope"}`))
	})
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePlatform) launch() *LaunchContext {
	return &LaunchContext{
		Issuer:   "https://lms.example.com",
		ClientID: "client-1",
		UserID:   "user-7",
		ResourceLink: ResourceLink{
			ID: "rl-1",
		},
		Endpoint: Endpoint{
			LineItems: f.srv.URL + "/lineitems",
			Scopes:    []string{ScopeLineItem, ScopeLineItemReadonly, ScopeScore, ScopeResultReadonly},
		},
	}
}

func (f *fakePlatform) ags(t *testing.T) *AGS {
	t.Helper()
	a, err := NewAGS(f.launch(), f.srv.URL+"/token", tokencache.New(nil), f.srv.Client())
	if err != nil {
		t.Fatalf("new AGS: %v", err)
	}
	return a
}

func TestNewAGSRequiresLaunch(t *testing.T) {
	if _, err := NewAGS(nil, "https://lms.example.com/token", tokencache.New(nil), nil); !errors.Is(err, ErrNoActiveLaunch) {
		t.Fatalf("expected ErrNoActiveLaunch, got %v", err)
	}
}

func TestListLineItemsUsesBearerToken(t *testing.T) {
	f := newFakePlatform(t)
	items, err := f.ags(t).ListLineItems(context.Background(), "rl-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Label != "Quiz" {
		t.Fatalf("items = %+v", items)
	}
	if f.lastAuth != "Bearer svc-token" {
		t.Fatalf("auth = %q", f.lastAuth)
	}
}

func TestCreateLineItemRejectsBadMaximumBeforeUpstream(t *testing.T) {
	f := newFakePlatform(t)
	_, err := f.ags(t).CreateLineItem(context.Background(), "Quiz", 0, "rl-1")
	if !errors.Is(err, ErrInvalidScoreMaximum) {
		t.Fatalf("expected ErrInvalidScoreMaximum, got %v", err)
	}
	if n := atomic.LoadInt32(&f.tokenHits); n != 0 {
		t.Fatalf("token endpoint contacted %d times for invalid input", n)
	}
}

func TestCreateLineItemRoundTrip(t *testing.T) {
	f := newFakePlatform(t)
	created, err := f.ags(t).CreateLineItem(context.Background(), "Homework", 20, "rl-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Label != "Homework" || created.ScoreMaximum != 20 {
		t.Fatalf("created = %+v", created)
	}
	if f.lastMethod != http.MethodPost || f.lastPath != "/lineitems" {
		t.Fatalf("request = %s %s", f.lastMethod, f.lastPath)
	}
}

func TestDeleteLineItemResolvesBareID(t *testing.T) {
	f := newFakePlatform(t)
	if err := f.ags(t).DeleteLineItem(context.Background(), "42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.lastPath != "/lineitems/42" {
		t.Fatalf("path = %q", f.lastPath)
	}
}

func TestDeleteLineItemKeepsAbsoluteURL(t *testing.T) {
	f := newFakePlatform(t)
	if err := f.ags(t).DeleteLineItem(context.Background(), f.srv.URL+"/other/li/7"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.lastPath != "/other/li/7" {
		t.Fatalf("path = %q", f.lastPath)
	}
}

func TestSubmitScoreValidatesBeforeUpstream(t *testing.T) {
	f := newFakePlatform(t)
	a := f.ags(t)

	err := a.SubmitScore(context.Background(), "42", Score{ScoreGiven: 5, ScoreMaximum: 0, ActivityProgress: "Completed", GradingProgress: "FullyGraded"})
	if !errors.Is(err, ErrInvalidScoreMaximum) {
		t.Fatalf("expected ErrInvalidScoreMaximum, got %v", err)
	}
	err = a.SubmitScore(context.Background(), "42", Score{ScoreGiven: 5, ScoreMaximum: 10, ActivityProgress: "Done", GradingProgress: "FullyGraded"})
	if !errors.Is(err, ErrInvalidProgressEnum) {
		t.Fatalf("expected ErrInvalidProgressEnum, got %v", err)
	}
	if n := atomic.LoadInt32(&f.tokenHits); n != 0 {
		t.Fatalf("token endpoint contacted %d times for invalid input", n)
	}
}

func TestSubmitScoreDefaultsUserAndTimestamp(t *testing.T) {
	f := newFakePlatform(t)
	err := f.ags(t).SubmitScore(context.Background(), "42", Score{
		ScoreGiven:       8,
		ScoreMaximum:     10,
		ActivityProgress: "Completed",
		GradingProgress:  "FullyGraded",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.lastPath != "/lineitems/42/scores" {
		t.Fatalf("path = %q", f.lastPath)
	}
	var sent Score
	if err := json.Unmarshal(f.lastBody, &sent); err != nil {
		t.Fatalf("unmarshal sent score: %v", err)
	}
	if sent.UserID != "user-7" {
		t.Errorf("userId defaulted to %q", sent.UserID)
	}
	if sent.Timestamp == "" || !strings.Contains(sent.Timestamp, "T") {
		t.Errorf("timestamp = %q", sent.Timestamp)
	}
}

func TestResultsRoundTrip(t *testing.T) {
	f := newFakePlatform(t)
	results, err := f.ags(t).Results(context.Background(), "42")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 || results[0].UserID != "user-7" {
		t.Fatalf("results = %+v", results)
	}
	if f.lastPath != "/lineitems/42/results" {
		t.Fatalf("path = %q", f.lastPath)
	}
}

func TestUpstreamRejectionSurfacesStatus(t *testing.T) {
	f := newFakePlatform(t)
	launch := f.launch()
	launch.Endpoint.LineItems = f.srv.URL + "/forbidden/lineitems"
	a, err := NewAGS(launch, f.srv.URL+"/token", tokencache.New(nil), f.srv.Client())
	if err != nil {
		t.Fatalf("new AGS: %v", err)
	}
	_, err = a.ListLineItems(context.Background(), "")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusForbidden {
		t.Fatalf("status = %d", ue.Status)
	}
	if ue.Transient() {
		t.Error("4xx reported as transient")
	}
}
