package repository

import (
	"context"
	"sync/atomic"
	"time"

	"gabs/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverSessionCache prefers the primary (Redis) cache and falls back to
// the in-memory one when the primary errors. After a minute it probes the
// primary again.
type FailoverSessionCache struct {
	primary  domain.SessionCache
	fallback domain.SessionCache
	logger   *zerolog.Logger
	isDown   atomic.Bool
	downAt   atomic.Int64 // unix nanos of the last failure
}

func NewFailoverSessionCache(primary, fallback domain.SessionCache, logger *zerolog.Logger) *FailoverSessionCache {
	return &FailoverSessionCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (c *FailoverSessionCache) Get(ctx context.Context, username string) (string, error) {
	if c.primaryUsable() {
		blob, err := c.primary.Get(ctx, username)
		if err == nil {
			c.isDown.Store(false)
			return blob, nil
		}
		c.markDown(err)
	}
	return c.fallback.Get(ctx, username)
}

func (c *FailoverSessionCache) Set(ctx context.Context, username, blob string) error {
	if c.primaryUsable() {
		if err := c.primary.Set(ctx, username, blob); err == nil {
			c.isDown.Store(false)
			return nil
		} else {
			c.markDown(err)
		}
	}
	return c.fallback.Set(ctx, username, blob)
}

func (c *FailoverSessionCache) Invalidate(ctx context.Context, username string) error {
	// Invalidation must reach both layers or a stale blob could resurface.
	var primaryErr error
	if c.primaryUsable() {
		if primaryErr = c.primary.Invalidate(ctx, username); primaryErr != nil {
			c.markDown(primaryErr)
		}
	}
	if err := c.fallback.Invalidate(ctx, username); err != nil {
		return err
	}
	return primaryErr
}

func (c *FailoverSessionCache) primaryUsable() bool {
	if !c.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, c.downAt.Load())) > time.Minute
}

func (c *FailoverSessionCache) markDown(err error) {
	c.logger.Error().Err(err).Msg("primary session cache failed, falling back to memory")
	c.isDown.Store(true)
	c.downAt.Store(time.Now().UnixNano())
}
