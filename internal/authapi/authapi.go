// Package authapi resolves connections to authenticated users. Three
// modes: off (every connection is anonymous), token (an HS256 JWT in
// the hello payload, verified locally), and remote (the account service
// is asked over HTTP, behind a circuit breaker and a per-connection
// cache).
package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// User is the account record behind a connection.
type User struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"display_name"`
	OwnedCosmetics []string `json:"owned_cosmetics"`
}

// OwnsCosmetic reports whether the inventory covers the given item.
// Inventory entries use the "kind:id" form, e.g. "hat:200".
func (u *User) OwnsCosmetic(kind string, id uint32) bool {
	if u == nil {
		return false
	}
	want := kind + ":" + strconv.FormatUint(uint64(id), 10)
	for _, item := range u.OwnedCosmetics {
		if item == want {
			return true
		}
	}
	return false
}

// Identity is what the transport knows about a connection when the
// resolver is asked.
type Identity struct {
	ClientID uint32
	Username string
	Token    string
	RemoteIP string
}

// Resolver maps a connection to its user. A nil user with a nil error
// means the connection is anonymous; implementations must be idempotent
// and cacheable per connection.
type Resolver interface {
	ConnectionUser(ctx context.Context, id Identity) (*User, error)
	// Forget drops any cached state for a closed connection.
	Forget(clientID uint32)
}

// ErrUnavailable reports that the account service cannot be reached;
// the caller decides whether to refuse the connection or admit it
// anonymously.
var ErrUnavailable = errors.New("authapi: account service unavailable")

// Anonymous resolves every connection to no user. The off mode.
type Anonymous struct{}

func (Anonymous) ConnectionUser(context.Context, Identity) (*User, error) { return nil, nil }

func (Anonymous) Forget(uint32) {}

// tokenClaims is the JWT payload modded clients carry in the hello.
type tokenClaims struct {
	DisplayName    string   `json:"display_name"`
	OwnedCosmetics []string `json:"owned_cosmetics"`
	jwt.RegisteredClaims
}

// TokenResolver verifies an HS256 JWT from the hello payload. No
// network calls, so nothing is cached.
type TokenResolver struct {
	secret []byte
}

// NewTokenResolver builds a resolver around the shared HS256 secret.
func NewTokenResolver(secret string) *TokenResolver {
	return &TokenResolver{secret: []byte(secret)}
}

func (t *TokenResolver) ConnectionUser(_ context.Context, id Identity) (*User, error) {
	if id.Token == "" {
		return nil, nil
	}
	token, err := jwt.ParseWithClaims(id.Token, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return &User{
		ID:             claims.Subject,
		DisplayName:    claims.DisplayName,
		OwnedCosmetics: claims.OwnedCosmetics,
	}, nil
}

func (t *TokenResolver) Forget(uint32) {}

// IssueToken signs a user into a token. Used by tests and by operators
// seeding accounts by hand.
func (t *TokenResolver) IssueToken(u User, ttl time.Duration) (string, error) {
	claims := &tokenClaims{
		DisplayName:    u.DisplayName,
		OwnedCosmetics: u.OwnedCosmetics,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Client asks the account service over HTTP:
// GET {base}/api/v1/connections/{clientId}/user. Lookups are cached per
// connection, deduplicated in flight, and cut off by a circuit breaker
// when the service is down.
type Client struct {
	base    string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[uint32]*User
}

// NewClient builds a remote resolver for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	st := gobreaker.Settings{
		Name:    "authapi",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("auth breaker state changed", "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		base:    baseURL,
		httpc:   &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(st),
		cache:   make(map[uint32]*User),
	}
}

func (c *Client) ConnectionUser(ctx context.Context, id Identity) (*User, error) {
	c.mu.RLock()
	cached, ok := c.cache[id.ClientID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	key := strconv.FormatUint(uint64(id.ClientID), 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		user, err := c.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[id.ClientID] = user
		c.mu.Unlock()
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*User), nil
}

func (c *Client) fetch(ctx context.Context, id Identity) (*User, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		url := fmt.Sprintf("%s/api/v1/connections/%d/user", c.base, id.ClientID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if id.Token != "" {
			req.Header.Set("Authorization", "Bearer "+id.Token)
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			var user User
			if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
				return nil, fmt.Errorf("decoding user: %w", err)
			}
			return &user, nil
		case http.StatusNotFound:
			// Known-anonymous: cacheable as nil.
			return (*User)(nil), nil
		default:
			return nil, fmt.Errorf("account service returned %s", resp.Status)
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("fetching user for connection %d: %w", id.ClientID, err)
	}
	return result.(*User), nil
}

// Forget drops the cache entry for a closed connection.
func (c *Client) Forget(clientID uint32) {
	c.mu.Lock()
	delete(c.cache, clientID)
	c.mu.Unlock()
}
