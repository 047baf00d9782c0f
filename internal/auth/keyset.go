// ABOUTME: Process-lifetime cache of remote signing key sets fetched from JWKS endpoints
// ABOUTME: Lazily populated, never invalidated proactively, one re-fetch on unknown kid

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySetCache caches remote JWKS documents for the lifetime of the process.
// It is shared across concurrent requests. A verification miss for an
// unknown key id triggers exactly one re-fetch attempt before failing,
// which covers issuer key rotation without a background refresher.
type KeySetCache struct {
	mu     sync.RWMutex
	sets   map[string]jwk.Set
	client *http.Client
	logger *slog.Logger
}

// NewKeySetCache creates an empty key set cache.
func NewKeySetCache() *KeySetCache {
	return &KeySetCache{
		sets:   make(map[string]jwk.Set),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default().With("component", "auth.keyset"),
	}
}

// OIDCKeySetURL derives the well-known JWKS location for an OIDC issuer.
func OIDCKeySetURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}

// APIKeyKeySetURL derives the per-key JWKS location for a self-issued API
// key. Each key id has its own keypair published under its own path.
func APIKeyKeySetURL(issuer, keyID string) string {
	return strings.TrimSuffix(issuer, "/") + "/" + keyID + "/.well-known/jwks.json"
}

// ResolveKey returns the verification key with the given kid from the key
// set at url, fetching the set if it isn't cached yet. An empty kid is
// accepted when the set holds exactly one key.
func (c *KeySetCache) ResolveKey(ctx context.Context, url, kid string) (jwk.Key, error) {
	set, ok := c.cached(url)
	if !ok {
		var err error
		set, err = c.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
	}

	if key, ok := lookupKey(set, kid); ok {
		return key, nil
	}

	// Unknown kid against a cached set: one re-fetch, then fail.
	set, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if key, ok := lookupKey(set, kid); ok {
		return key, nil
	}

	return nil, fmt.Errorf("%w: no key %q in key set %s", ErrInvalidSignature, kid, url)
}

func lookupKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid == "" {
		if set.Len() == 1 {
			return set.Key(0)
		}
		return nil, false
	}
	return set.LookupKeyID(kid)
}

func (c *KeySetCache) cached(url string) (jwk.Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[url]
	return set, ok
}

func (c *KeySetCache) fetch(ctx context.Context, url string) (jwk.Set, error) {
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(c.client))
	if err != nil {
		return nil, fmt.Errorf("fetching key set %s: %w", url, err)
	}

	c.mu.Lock()
	c.sets[url] = set
	c.mu.Unlock()

	c.logger.Debug("fetched key set", "url", url, "keys", set.Len())
	return set, nil
}
