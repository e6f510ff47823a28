package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gabs/internal/config"
)

// Auth issues opaque bearer tokens after a successful portal login and
// validates them on every request. Tokens live in memory; a restart just
// forces users to log in again.
type Auth struct {
	cfg      config.APIConfig
	mu       sync.Mutex
	tokens   map[string]tokenEntry
	limiters sync.Map // map[string]*rate.Limiter

	now func() time.Time
}

type tokenEntry struct {
	username  string
	expiresAt time.Time
}

func NewAuth(cfg config.APIConfig) *Auth {
	return &Auth{
		cfg:    cfg,
		tokens: make(map[string]tokenEntry),
		now:    time.Now,
	}
}

// Issue mints a new token for the user.
func (a *Auth) Issue(username string) (string, time.Time) {
	token := uuid.NewString()
	expires := a.now().Add(a.cfg.TokenTTL)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = tokenEntry{username: username, expiresAt: expires}
	return token, expires
}

// Resolve returns the username behind a token, or an error when the token is
// unknown or expired. Expired entries are removed on the way out.
func (a *Auth) Resolve(token string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.tokens[token]
	if !ok {
		return "", fmt.Errorf("invalid token")
	}
	if a.now().After(entry.expiresAt) {
		delete(a.tokens, token)
		return "", fmt.Errorf("token expired")
	}
	return entry.username, nil
}

// Revoke drops a token, ending the API session.
func (a *Auth) Revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// Allow enforces the per-client rate limit. The token identifies the client
// when present, the remote host otherwise, so unauthenticated endpoints are
// limited too.
func (a *Auth) Allow(r *http.Request) bool {
	if a.cfg.RateLimit.RPS <= 0 {
		return true
	}
	return a.getLimiter(a.clientKey(r)).Allow()
}

func (a *Auth) clientKey(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *Auth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}
