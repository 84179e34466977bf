package lti

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	ltipkg "github.com/quipper/poc/lti/tool/pkg/lti"
)

// sessionStore keeps validated launch contexts keyed by an opaque session
// token (ltik). Contexts are immutable after Put, so readers share them
// without copying. Expired entries are dropped lazily on access.
type sessionStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]sessionEntry
}

type sessionEntry struct {
	launch    *ltipkg.LaunchContext
	expiresAt time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:   ttl,
		items: make(map[string]sessionEntry),
	}
}

// Put stores a launch context and returns its ltik.
func (s *sessionStore) Put(launch *ltipkg.LaunchContext) string {
	ltik := uuid.NewString()
	s.mu.Lock()
	s.items[ltik] = sessionEntry{launch: launch, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return ltik
}

// Get returns the launch context for an ltik, false if absent or expired.
func (s *sessionStore) Get(ltik string) (*ltipkg.LaunchContext, bool) {
	if ltik == "" {
		return nil, false
	}
	s.mu.RLock()
	e, ok := s.items[ltik]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.items, ltik)
		s.mu.Unlock()
		return nil, false
	}
	return e.launch, true
}

// ltikFromRequest extracts the session token, accepting the ltik query
// parameter, a Bearer Authorization header, or the ltik cookie set at launch.
func ltikFromRequest(r *http.Request) string {
	if v := r.URL.Query().Get("ltik"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie("ltik"); err == nil {
		return c.Value
	}
	return ""
}
