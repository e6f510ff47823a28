package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gabs/internal/config"
	"gabs/internal/crypto"
	"gabs/internal/database"
	"gabs/internal/domain"
	"gabs/internal/models"
	"gabs/internal/portal"
	"gabs/internal/repository"
)

type fakeClient struct {
	username   string
	loginErr   error
	blob       string
	restored   string
	loginCalls int
}

func (f *fakeClient) Username() string { return f.username }

func (f *fakeClient) Login(_ context.Context, _ string) error {
	f.loginCalls++
	return f.loginErr
}

func (f *fakeClient) RestoreState(blob string) error {
	if blob == "corrupt" {
		return errors.New("bad blob")
	}
	f.restored = blob
	return nil
}

func (f *fakeClient) State() (string, error) { return f.blob, nil }

func (f *fakeClient) ClassesForDate(context.Context, string) ([]portal.ClassEntry, string, error) {
	return nil, "", nil
}
func (f *fakeClient) Submit(context.Context, portal.BookingForm) error { return nil }
func (f *fakeClient) CurrentBookings(context.Context) ([]portal.BookingSnapshot, error) {
	return nil, nil
}
func (f *fakeClient) FetchClasses(context.Context, int) ([]models.ClassCandidate, error) {
	return nil, nil
}

func newTestProvider(t *testing.T, factory ClientFactory) (*Provider, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.New("test-passphrase", "test-salt")
	require.NoError(t, err)

	cfg := config.SessionConfig{
		CooldownThreshold: 3,
		CooldownDuration:  time.Hour,
		CacheTTL:          time.Hour,
	}
	provider := NewProvider(db, repository.NewMemorySessionCache(cfg.CacheTTL), cipher, factory, cfg, &logger)
	return provider, db
}

func TestLoginPersistsSession(t *testing.T) {
	client := &fakeClient{username: "alice", blob: "session-blob"}
	provider, db := newTestProvider(t, func(string) (domain.PortalClient, error) {
		return client, nil
	})
	ctx := context.Background()

	got, err := provider.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username())
	assert.Equal(t, 1, client.loginCalls)

	sess, err := db.GetSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "session-blob", sess.Blob)
	assert.NotEmpty(t, sess.Credentials)
	assert.NotEqual(t, "secret", sess.Credentials)
}

func TestObtain(t *testing.T) {
	t.Run("RestoresFromStoredBlob", func(t *testing.T) {
		client := &fakeClient{username: "alice", blob: "session-blob"}
		provider, db := newTestProvider(t, func(string) (domain.PortalClient, error) {
			return client, nil
		})
		ctx := context.Background()

		_, err := provider.Login(ctx, "alice", "secret")
		require.NoError(t, err)

		got, err := provider.Obtain(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "session-blob", client.restored)
		assert.Equal(t, "alice", got.Username())
		// No extra login round: the blob was enough.
		assert.Equal(t, 1, client.loginCalls)

		sess, err := db.GetSession(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, sess.LastTouchedAt.IsZero())
	})

	t.Run("NoStoredSessionFailsWithoutCredentials", func(t *testing.T) {
		provider, _ := newTestProvider(t, func(string) (domain.PortalClient, error) {
			return &fakeClient{username: "ghost"}, nil
		})

		_, err := provider.Obtain(context.Background(), "ghost")
		assert.ErrorIs(t, err, portal.ErrAuthFailed)
	})

	t.Run("CorruptBlobFallsBackToRelogin", func(t *testing.T) {
		client := &fakeClient{username: "alice", blob: "corrupt"}
		provider, _ := newTestProvider(t, func(string) (domain.PortalClient, error) {
			return client, nil
		})
		ctx := context.Background()

		_, err := provider.Login(ctx, "alice", "secret")
		require.NoError(t, err)

		_, err = provider.Obtain(ctx, "alice")
		require.NoError(t, err)
		// RestoreState rejected the blob, so a credential login happened.
		assert.Equal(t, 2, client.loginCalls)
	})
}

func TestLoginCooldown(t *testing.T) {
	client := &fakeClient{username: "alice", loginErr: portal.ErrAuthFailed}
	factoryCalls := 0
	provider, _ := newTestProvider(t, func(string) (domain.PortalClient, error) {
		factoryCalls++
		return client, nil
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := provider.Login(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, portal.ErrAuthFailed)
	}
	assert.Equal(t, 3, factoryCalls)

	// Threshold reached: the next attempt fails fast without a portal call.
	_, err := provider.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrCoolingDown)
	assert.Equal(t, 3, factoryCalls)

	_, err = provider.Obtain(ctx, "alice")
	assert.ErrorIs(t, err, ErrCoolingDown)

	// A success elsewhere does not leak between users.
	other := &fakeClient{username: "bob", blob: "b"}
	provider2, _ := newTestProvider(t, func(string) (domain.PortalClient, error) {
		return other, nil
	})
	_, err = provider2.Login(ctx, "bob", "right")
	assert.NoError(t, err)
}

func TestWithRelogin(t *testing.T) {
	t.Run("RetriesOnceAfterRelogin", func(t *testing.T) {
		client := &fakeClient{username: "alice", blob: "blob"}
		provider, _ := newTestProvider(t, func(string) (domain.PortalClient, error) {
			return client, nil
		})
		ctx := context.Background()
		_, err := provider.Login(ctx, "alice", "secret")
		require.NoError(t, err)

		calls := 0
		err = WithRelogin(ctx, provider, client, func(c domain.PortalClient) error {
			calls++
			if calls == 1 {
				return portal.ErrSessionExpired
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		// Initial login plus the relogin triggered by the expiry.
		assert.Equal(t, 2, client.loginCalls)
	})

	t.Run("NonExpiryErrorPassesThrough", func(t *testing.T) {
		client := &fakeClient{username: "alice"}
		provider, _ := newTestProvider(t, func(string) (domain.PortalClient, error) {
			return client, nil
		})

		sentinel := errors.New("boom")
		err := WithRelogin(context.Background(), provider, client, func(domain.PortalClient) error {
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Zero(t, client.loginCalls)
	})

	t.Run("FailedReloginRaisesSessionExpired", func(t *testing.T) {
		client := &fakeClient{username: "alice"}
		provider, _ := newTestProvider(t, func(string) (domain.PortalClient, error) {
			return client, nil
		})

		calls := 0
		err := WithRelogin(context.Background(), provider, client, func(domain.PortalClient) error {
			calls++
			return portal.ErrSessionExpired
		})
		assert.ErrorIs(t, err, portal.ErrSessionExpired)
		// No stored credentials, so the op never ran a second time.
		assert.Equal(t, 1, calls)
	})
}
