package security

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHalfLife(t *testing.T) {
	assert.Equal(t, 5*time.Minute, HalfLife(10*time.Minute))
	assert.Equal(t, ttlcache.NoTTL, HalfLife(0))
	assert.Equal(t, ttlcache.NoTTL, HalfLife(-time.Second))
}

func TestTokenCacheExpiresAtHalfLifeAndCallsBack(t *testing.T) {
	expired := make(chan ExpiryAwareToken, 1)
	c := NewTokenCache(func(_ context.Context, kind TokenKind, tok ExpiryAwareToken) {
		if kind == AccessToken {
			expired <- tok
		}
	})
	defer c.Close()

	owner := ConnectionParams{OkapiURL: "http://okapi", TenantID: "diku"}
	c.SetAccessToken("diku", ExpiryAwareToken{Token: "t1", MaxAge: 400 * time.Millisecond, Owner: owner})

	// reads inside the half-life see the token and do not extend it
	for range 3 {
		tok, ok := c.AccessToken("diku")
		require.True(t, ok)
		assert.Equal(t, "t1", tok.Token)
		time.Sleep(40 * time.Millisecond)
	}

	select {
	case tok := <-expired:
		assert.Equal(t, "t1", tok.Token)
		assert.Equal(t, owner, tok.Owner)
	case <-time.After(2 * time.Second):
		t.Fatal("expiry callback not invoked")
	}

	_, ok := c.AccessToken("diku")
	assert.False(t, ok)
}

func TestTokenCacheCallbackMayWriteBack(t *testing.T) {
	var c *TokenCache
	var calls atomic.Int32
	c = NewTokenCache(func(_ context.Context, kind TokenKind, tok ExpiryAwareToken) {
		if calls.Add(1) == 1 {
			c.SetAccessToken(tok.Owner.TenantID, ExpiryAwareToken{Token: "t2", MaxAge: time.Hour, Owner: tok.Owner})
		}
	})
	defer c.Close()

	c.SetAccessToken("diku", ExpiryAwareToken{Token: "t1", MaxAge: 60 * time.Millisecond, Owner: ConnectionParams{TenantID: "diku"}})

	require.Eventually(t, func() bool {
		tok, ok := c.AccessToken("diku")
		return ok && tok.Token == "t2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTokenCacheInvalidateDoesNotRefresh(t *testing.T) {
	var calls atomic.Int32
	c := NewTokenCache(func(context.Context, TokenKind, ExpiryAwareToken) { calls.Add(1) })
	defer c.Close()

	c.SetAccessToken("diku", ExpiryAwareToken{Token: "a", MaxAge: time.Hour})
	c.SetRefreshToken("diku", ExpiryAwareToken{Token: "r", MaxAge: time.Hour})

	c.Invalidate("diku")

	_, ok := c.AccessToken("diku")
	assert.False(t, ok)
	_, ok = c.RefreshToken("diku")
	assert.False(t, ok)
	assert.Never(t, func() bool { return calls.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestTokenCacheTenantsAreIndependent(t *testing.T) {
	c := NewTokenCache(nil)
	defer c.Close()

	c.SetAccessToken("a", ExpiryAwareToken{Token: "ta", MaxAge: time.Hour})
	c.SetAccessToken("b", ExpiryAwareToken{Token: "tb", MaxAge: time.Hour})
	c.Invalidate("a")

	_, ok := c.AccessToken("a")
	assert.False(t, ok)
	tok, ok := c.AccessToken("b")
	assert.True(t, ok)
	assert.Equal(t, "tb", tok.Token)
}
