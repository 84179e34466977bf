package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/quipper/poc/lti/tool/pkg/common/keys"
	"github.com/quipper/poc/lti/tool/pkg/common/logger"
	"golang.org/x/sync/singleflight"
)

const assertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// expiryMargin is subtracted from the platform-reported lifetime so a token
// is never used in the last moments before it expires upstream.
const expiryMargin = 30 * time.Second

// token is a cached bearer token for one (token endpoint, client, scope set).
type token struct {
	accessToken string
	expiresAt   time.Time
}

// Cache obtains and caches OAuth2 client-credentials bearer tokens,
// authenticating with a JWT client assertion signed by the tool key.
// Concurrent requests for the same key share a single in-flight grant.
type Cache struct {
	mu     sync.RWMutex
	tokens map[string]token
	group  singleflight.Group
	client *http.Client
}

// New creates a token cache. httpClient may be nil, in which case a client
// with a 10s timeout is used.
func New(httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Cache{
		tokens: make(map[string]token),
		client: httpClient,
	}
}

// Bearer returns a valid access token for the given platform token endpoint,
// client id and scope set, performing the client-credentials grant when no
// usable cached token exists.
func (c *Cache) Bearer(ctx context.Context, tokenURL, clientID string, scopes []string) (string, error) {
	if tokenURL == "" {
		return "", errors.New("tokencache: empty token endpoint")
	}
	key := cacheKey(tokenURL, clientID, scopes)

	c.mu.RLock()
	t, ok := c.tokens[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(t.expiresAt) {
		return t.accessToken, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed.
		c.mu.RLock()
		t, ok := c.tokens[key]
		c.mu.RUnlock()
		if ok && time.Now().Before(t.expiresAt) {
			return t.accessToken, nil
		}
		fresh, err := c.grant(ctx, tokenURL, clientID, scopes)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tokens[key] = fresh
		c.mu.Unlock()
		return fresh.accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token for a key, forcing the next Bearer call
// to perform a fresh grant.
func (c *Cache) Invalidate(tokenURL, clientID string, scopes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, cacheKey(tokenURL, clientID, scopes))
}

func cacheKey(tokenURL, clientID string, scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return tokenURL + "|" + clientID + "|" + strings.Join(sorted, " ")
}

// grant performs the client_credentials grant with a private_key_jwt
// client assertion per the IMS security framework.
func (c *Cache) grant(ctx context.Context, tokenURL, clientID string, scopes []string) (token, error) {
	assertion, err := buildAssertion(tokenURL, clientID)
	if err != nil {
		return token{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_assertion_type", assertionType)
	form.Set("client_assertion", assertion)
	form.Set("scope", strings.Join(scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return token{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		logger.Debug("tokencache: grant rejected status=%d body=%s", resp.StatusCode, string(body))
		return token{}, fmt.Errorf("tokencache: token endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return token{}, fmt.Errorf("tokencache: invalid token response: %w", err)
	}
	if out.AccessToken == "" {
		return token{}, errors.New("tokencache: token response missing access_token")
	}
	lifetime := time.Duration(out.ExpiresIn) * time.Second
	if lifetime <= expiryMargin {
		// Very short-lived tokens are used once and not cached beyond now.
		lifetime = expiryMargin + time.Second
	}
	logger.Debug("tokencache: obtained token client_id=%s scopes=%d expires_in=%ds", clientID, len(scopes), out.ExpiresIn)
	return token{
		accessToken: out.AccessToken,
		expiresAt:   time.Now().Add(lifetime - expiryMargin),
	}, nil
}

// buildAssertion creates the signed JWT the tool presents as client
// authentication: iss and sub are the client_id, aud the token endpoint.
func buildAssertion(tokenURL, clientID string) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(clientID).
		Subject(clientID).
		Audience([]string{tokenURL}).
		IssuedAt(now).
		Expiration(now.Add(5 * time.Minute)).
		JwtID(uuid.NewString()).
		Build()
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
