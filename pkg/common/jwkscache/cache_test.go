package jwkscache

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func jwksBody(t *testing.T, kid string) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	_ = key.Set(jwk.KeyIDKey, kid)
	set := jwk.NewSet()
	_ = set.AddKey(key)
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	return b
}

func TestGetDeduplicatesConcurrentFetches(t *testing.T) {
	body := jwksBody(t, "kid-1")
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(10*time.Minute, time.Hour, 24*time.Hour)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), srv.URL)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected 1 upstream fetch, got %d", n)
	}
}

func TestGetUsesCachedSetUntilExpiry(t *testing.T) {
	body := jwksBody(t, "kid-1")
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(10*time.Minute, time.Hour, 24*time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), srv.URL); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected 1 upstream fetch, got %d", n)
	}
}

func TestServesStaleOnUpstreamFailure(t *testing.T) {
	body := jwksBody(t, "kid-1")
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "max-age=0")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(10*time.Minute, time.Hour, 24*time.Hour)
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("prime: %v", err)
	}
	fail.Store(true)

	set, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected stale set, got error: %v", err)
	}
	if _, found := set.LookupKeyID("kid-1"); !found {
		t.Fatal("stale set missing kid-1")
	}
}

func TestStaleSetBeyondHardMaxAgeIsRejected(t *testing.T) {
	body := jwksBody(t, "kid-1")
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "max-age=0")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(10*time.Minute, time.Hour, 100*time.Millisecond)
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("prime: %v", err)
	}
	fail.Store(true)
	time.Sleep(150 * time.Millisecond)

	_, err := c.Get(context.Background(), srv.URL)
	if !errors.Is(err, ErrKeySetTooStale) {
		t.Fatalf("expected ErrKeySetTooStale, got %v", err)
	}
}

func TestRefreshForcesFetch(t *testing.T) {
	body := jwksBody(t, "kid-1")
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=3600")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(10*time.Minute, time.Hour, 24*time.Hour)
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Refresh(context.Background(), srv.URL); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected 2 upstream fetches, got %d", n)
	}
}
