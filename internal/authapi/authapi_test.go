package authapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymousResolver(t *testing.T) {
	user, err := Anonymous{}.ConnectionUser(context.Background(), Identity{ClientID: 1})
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestTokenResolverRoundTrip(t *testing.T) {
	r := NewTokenResolver("test-secret")
	token, err := r.IssueToken(User{
		ID:             "u-1",
		DisplayName:    "Alice",
		OwnedCosmetics: []string{"hat:200"},
	}, time.Hour)
	require.NoError(t, err)

	user, err := r.ConnectionUser(context.Background(), Identity{ClientID: 1, Token: token})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.True(t, user.OwnsCosmetic("hat", 200))
	assert.False(t, user.OwnsCosmetic("hat", 201))
	assert.False(t, user.OwnsCosmetic("pet", 200))
}

func TestTokenResolverRejectsForgedToken(t *testing.T) {
	issuer := NewTokenResolver("their-secret")
	token, err := issuer.IssueToken(User{ID: "u-1"}, time.Hour)
	require.NoError(t, err)

	verifier := NewTokenResolver("our-secret")
	_, err = verifier.ConnectionUser(context.Background(), Identity{Token: token})
	assert.Error(t, err)
}

func TestTokenResolverEmptyTokenIsAnonymous(t *testing.T) {
	r := NewTokenResolver("secret")
	user, err := r.ConnectionUser(context.Background(), Identity{})
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestClientCachesPerConnection(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/connections/1001/user", r.URL.Path)
		fmt.Fprint(w, `{"id":"u-1","display_name":"Alice","owned_cosmetics":["hat:200"]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	id := Identity{ClientID: 1001}

	for i := 0; i < 3; i++ {
		user, err := c.ConnectionUser(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "Alice", user.DisplayName)
	}
	assert.Equal(t, int32(1), hits.Load(), "lookup is cached per connection")

	c.Forget(1001)
	_, err := c.ConnectionUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "forget drops the cache entry")
}

func TestClientNotFoundIsAnonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	user, err := c.ConnectionUser(context.Background(), Identity{ClientID: 7})
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestClientBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.ConnectionUser(context.Background(), Identity{ClientID: uint32(i)})
		require.Error(t, err)
	}

	_, err := c.ConnectionUser(context.Background(), Identity{ClientID: 99})
	assert.ErrorIs(t, err, ErrUnavailable, "breaker is open, no more requests go out")
}
