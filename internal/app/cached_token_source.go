package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/florianilch/credcache/internal/tokenstore"
)

// CachedTokenSource wraps an oauth2.TokenSource and keeps the last token in a
// tokenstore.Store, so a still-valid token survives process restarts.
// Store failures are logged by the store and never fail Token.
type CachedTokenSource struct {
	base  oauth2.TokenSource
	store tokenstore.Store
	key   string

	mu sync.Mutex
}

// Compile-time check to ensure CachedTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*CachedTokenSource)(nil)

// NewCachedTokenSource creates a CachedTokenSource storing tokens under key.
// No I/O is performed until the first Token call.
func NewCachedTokenSource(base oauth2.TokenSource, store tokenstore.Store, key string) (*CachedTokenSource, error) {
	if base == nil {
		return nil, fmt.Errorf("missing token source")
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if key == "" {
		return nil, fmt.Errorf("missing cache key")
	}

	return &CachedTokenSource{
		base:  base,
		store: store,
		key:   key,
	}, nil
}

// Token returns the cached token if it is still valid, otherwise a fresh token
// from the wrapped source, which is then written back to the store.
func (c *CachedTokenSource) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx := context.Background()

	if cached := c.store.Read(ctx, c.key); cached.OK() {
		var token oauth2.Token
		if err := json.Unmarshal([]byte(cached.Value), &token); err != nil {
			slog.WarnContext(ctx, "ignoring malformed cached token", "key", c.key, "error", err)
		} else if token.Valid() {
			return &token, nil
		}
	}

	freshToken, err := c.base.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token from token source: %w", err)
	}

	data, err := json.Marshal(freshToken)
	if err != nil {
		return nil, fmt.Errorf("encoding token: %w", err)
	}
	// Write failure only costs a re-authentication on the next run
	if res := c.store.Write(ctx, c.key, string(data)); res.Status == tokenstore.StatusFailed {
		slog.WarnContext(ctx, "token not cached", "key", c.key)
	}

	return freshToken, nil
}

// Invalidate forgets the cached token, e.g. after the server rejected it.
func (c *CachedTokenSource) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Remove(ctx, c.key)
}
