package security

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TokenKind tells the access and refresh caches apart.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

func (k TokenKind) String() string {
	if k == RefreshToken {
		return "refresh"
	}
	return "access"
}

// ExpiryAwareToken is a token together with the lifetime the issuer granted it.
type ExpiryAwareToken struct {
	Token  string
	MaxAge time.Duration
	Owner  ConnectionParams
}

// ExpireFunc is called when a token's half-life elapses. It runs on its own
// goroutine and may write back into the cache.
type ExpireFunc func(ctx context.Context, kind TokenKind, expired ExpiryAwareToken)

// TokenCache keeps one access and one refresh token per tenant. Entries live
// for half of their MaxAge; reads never extend that.
type TokenCache struct {
	access   *ttlcache.Cache[string, ExpiryAwareToken]
	refresh  *ttlcache.Cache[string, ExpiryAwareToken]
	onExpire ExpireFunc
}

// NewTokenCache starts the expiry loops. onExpire may be nil.
func NewTokenCache(onExpire ExpireFunc) *TokenCache {
	c := &TokenCache{
		access:   newTokenStore(),
		refresh:  newTokenStore(),
		onExpire: onExpire,
	}
	c.access.OnEviction(c.evicted(AccessToken))
	c.refresh.OnEviction(c.evicted(RefreshToken))
	go c.access.Start()
	go c.refresh.Start()
	return c
}

func newTokenStore() *ttlcache.Cache[string, ExpiryAwareToken] {
	return ttlcache.New[string, ExpiryAwareToken](
		ttlcache.WithDisableTouchOnHit[string, ExpiryAwareToken](),
	)
}

func (c *TokenCache) evicted(kind TokenKind) func(context.Context, ttlcache.EvictionReason, *ttlcache.Item[string, ExpiryAwareToken]) {
	return func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, ExpiryAwareToken]) {
		if reason != ttlcache.EvictionReasonExpired || c.onExpire == nil {
			return
		}
		// off the cache's goroutine: the callback writes back into it
		go c.onExpire(context.WithoutCancel(ctx), kind, item.Value())
	}
}

// HalfLife is the cache lifetime of a token with the given max age.
func HalfLife(maxAge time.Duration) time.Duration {
	if maxAge <= 0 {
		return ttlcache.NoTTL
	}
	return maxAge / 2
}

func (c *TokenCache) SetAccessToken(tenant string, tok ExpiryAwareToken) {
	c.access.Set(tenant, tok, HalfLife(tok.MaxAge))
}

func (c *TokenCache) SetRefreshToken(tenant string, tok ExpiryAwareToken) {
	c.refresh.Set(tenant, tok, HalfLife(tok.MaxAge))
}

func (c *TokenCache) AccessToken(tenant string) (ExpiryAwareToken, bool) {
	return lookup(c.access, tenant)
}

func (c *TokenCache) RefreshToken(tenant string) (ExpiryAwareToken, bool) {
	return lookup(c.refresh, tenant)
}

func lookup(store *ttlcache.Cache[string, ExpiryAwareToken], tenant string) (ExpiryAwareToken, bool) {
	item := store.Get(tenant)
	if item == nil {
		return ExpiryAwareToken{}, false
	}
	return item.Value(), true
}

// Invalidate drops both tokens of tenant without triggering a refresh.
func (c *TokenCache) Invalidate(tenant string) {
	c.access.Delete(tenant)
	c.refresh.Delete(tenant)
}

// Close stops the expiry loops and drops every token.
func (c *TokenCache) Close() {
	c.access.Stop()
	c.refresh.Stop()
	c.access.DeleteAll()
	c.refresh.DeleteAll()
}
