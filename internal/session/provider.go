// Package session resolves usernames to authenticated portal clients.
// Sessions are always restored from persisted state rather than held live in
// process memory, so a restart or a second worker sees the same session; a
// read-through cache sits in front of the store as an optimization.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gabs/internal/config"
	"gabs/internal/crypto"
	"gabs/internal/database"
	"gabs/internal/domain"
	"gabs/internal/metrics"
	"gabs/internal/models"
	"gabs/internal/portal"

	"github.com/rs/zerolog"
)

// ErrCoolingDown is returned while a username's login failures have tripped
// the cool-down: obtain requests fail fast without touching the remote site.
var ErrCoolingDown = errors.New("login cooling down")

// ClientFactory builds an unauthenticated portal client for a username.
type ClientFactory func(username string) (domain.PortalClient, error)

type Provider struct {
	store   domain.Store
	cache   domain.SessionCache
	cipher  *crypto.Cipher
	factory ClientFactory
	cfg     config.SessionConfig
	logger  zerolog.Logger

	mu     sync.Mutex
	health map[string]*loginHealth
}

type loginHealth struct {
	failures      int
	cooldownUntil time.Time
}

func NewProvider(store domain.Store, cache domain.SessionCache, cipher *crypto.Cipher,
	factory ClientFactory, cfg config.SessionConfig, logger *zerolog.Logger) *Provider {
	return &Provider{
		store:   store,
		cache:   cache,
		cipher:  cipher,
		factory: factory,
		cfg:     cfg,
		logger:  logger.With().Str("component", "session").Logger(),
		health:  make(map[string]*loginHealth),
	}
}

// Obtain restores an authenticated client from the persisted session blob.
// When no blob exists it falls back to a credential re-login. The session is
// not validated here; staleness surfaces as ErrSessionExpired on first use
// and is healed by the retry-once combinator.
func (p *Provider) Obtain(ctx context.Context, username string) (domain.PortalClient, error) {
	if err := p.checkCooldown(username); err != nil {
		return nil, err
	}

	blob, err := p.cache.Get(ctx, username)
	if err != nil {
		p.logger.Warn().Err(err).Str("username", username).Msg("session cache read failed")
		blob = ""
	}
	if blob == "" {
		sess, err := p.store.GetSession(ctx, username)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return p.Relogin(ctx, username)
			}
			return nil, fmt.Errorf("load session for %s: %w", username, err)
		}
		blob = sess.Blob
		if blob == "" {
			return p.Relogin(ctx, username)
		}
		if cerr := p.cache.Set(ctx, username, blob); cerr != nil {
			p.logger.Warn().Err(cerr).Str("username", username).Msg("session cache write failed")
		}
	}

	client, err := p.factory(username)
	if err != nil {
		return nil, fmt.Errorf("build portal client for %s: %w", username, err)
	}
	if err := client.RestoreState(blob); err != nil {
		// Corrupt blob: drop it and start over with credentials.
		p.logger.Warn().Err(err).Str("username", username).Msg("discarding unreadable session blob")
		_ = p.cache.Invalidate(ctx, username)
		return p.Relogin(ctx, username)
	}

	_ = p.store.TouchSession(ctx, username)
	return client, nil
}

// Login performs a fresh credential login and persists both the encrypted
// credentials and the resulting session state.
func (p *Provider) Login(ctx context.Context, username, password string) (domain.PortalClient, error) {
	if err := p.checkCooldown(username); err != nil {
		return nil, err
	}

	client, err := p.factory(username)
	if err != nil {
		return nil, fmt.Errorf("build portal client for %s: %w", username, err)
	}
	if err := client.Login(ctx, password); err != nil {
		p.recordFailure(username)
		metrics.IncLogin("failure")
		return nil, err
	}
	p.recordSuccess(username)
	metrics.IncLogin("success")

	encrypted, err := p.cipher.EncryptToString(password)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials for %s: %w", username, err)
	}
	if err := p.persist(ctx, client, username, encrypted); err != nil {
		return nil, err
	}
	return client, nil
}

// Relogin re-authenticates from stored credentials after a session expiry.
func (p *Provider) Relogin(ctx context.Context, username string) (domain.PortalClient, error) {
	if err := p.checkCooldown(username); err != nil {
		return nil, err
	}

	sess, err := p.store.GetSession(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: no stored credentials for %s", portal.ErrAuthFailed, username)
		}
		return nil, fmt.Errorf("load session for %s: %w", username, err)
	}
	if sess.Credentials == "" {
		return nil, fmt.Errorf("%w: no stored credentials for %s", portal.ErrAuthFailed, username)
	}

	password, err := p.cipher.DecryptString(sess.Credentials)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for %s: %w", username, err)
	}

	client, err := p.factory(username)
	if err != nil {
		return nil, fmt.Errorf("build portal client for %s: %w", username, err)
	}
	if err := client.Login(ctx, password); err != nil {
		p.recordFailure(username)
		metrics.IncLogin("failure")
		return nil, err
	}
	p.recordSuccess(username)
	metrics.IncLogin("success")

	if err := p.persist(ctx, client, username, ""); err != nil {
		return nil, err
	}
	return client, nil
}

func (p *Provider) persist(ctx context.Context, client domain.PortalClient, username, encryptedCreds string) error {
	blob, err := client.State()
	if err != nil {
		return fmt.Errorf("serialize session for %s: %w", username, err)
	}
	if err := p.store.UpsertSession(ctx, &models.Session{
		Username:    username,
		Credentials: encryptedCreds,
		Blob:        blob,
	}); err != nil {
		return err
	}
	// Cache invalidation before set so a racing reader never keeps the old blob.
	if err := p.cache.Invalidate(ctx, username); err != nil {
		p.logger.Warn().Err(err).Str("username", username).Msg("session cache invalidate failed")
	}
	if err := p.cache.Set(ctx, username, blob); err != nil {
		p.logger.Warn().Err(err).Str("username", username).Msg("session cache write failed")
	}
	return nil
}

func (p *Provider) checkCooldown(username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[username]
	if !ok {
		return nil
	}
	if until := h.cooldownUntil; !until.IsZero() {
		if time.Now().Before(until) {
			return fmt.Errorf("%w: until %s", ErrCoolingDown, until.Format(time.RFC3339))
		}
		// Cool-down elapsed: allow another round of attempts.
		h.cooldownUntil = time.Time{}
		h.failures = 0
	}
	return nil
}

func (p *Provider) recordFailure(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[username]
	if !ok {
		h = &loginHealth{}
		p.health[username] = h
	}
	h.failures++
	if h.failures >= p.cfg.CooldownThreshold {
		h.cooldownUntil = time.Now().Add(p.cfg.CooldownDuration)
		p.logger.Warn().
			Str("username", username).
			Int("failures", h.failures).
			Time("until", h.cooldownUntil).
			Msg("login failures reached threshold, entering cool-down")
	}
}

func (p *Provider) recordSuccess(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.health, username)
}
