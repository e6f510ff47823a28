package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
database:
  path: data/test.db
portal:
  base_url: https://portal.example
crypto:
  passphrase: secret
  salt: pepper
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "gabs", cfg.App.Name)
	assert.Equal(t, 48, cfg.Booking.WindowHours)
	assert.Equal(t, 10*time.Minute, cfg.Booking.StalenessThreshold)
	assert.Equal(t, 3, cfg.Booking.MaxRetries)
	assert.Equal(t, 2, cfg.Booking.NoMatchRetries)
	assert.Equal(t, float64(50), cfg.Booking.MatchThreshold)
	assert.Equal(t, 3, cfg.Session.CooldownThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Session.CooldownDuration)
	assert.Equal(t, time.Minute, cfg.Scheduler.ProcessInterval)
	assert.Equal(t, 2, cfg.Scheduler.PoolSize)
	assert.Equal(t, 3*time.Hour+25*time.Minute, cfg.Reminders.LeadMin)
	assert.Equal(t, 3*time.Hour+35*time.Minute, cfg.Reminders.LeadMax)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 24*time.Hour, cfg.API.TokenTTL)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
booking:
  window_hours: 72
  match_threshold: 65
scheduler:
  process_interval: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, 72, cfg.Booking.WindowHours)
	assert.Equal(t, float64(65), cfg.Booking.MatchThreshold)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ProcessInterval)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_PORTAL_URL", "https://env.example")

	cfg, err := Load(writeConfig(t, `
database:
  path: data/test.db
portal:
  base_url: ${TEST_PORTAL_URL}
crypto:
  passphrase: secret
  salt: pepper
`))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example", cfg.Portal.BaseURL)
}

func TestLoadValidation(t *testing.T) {
	t.Run("MissingDatabasePath", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
portal:
  base_url: https://portal.example
crypto:
  passphrase: secret
  salt: pepper
`))
		assert.ErrorContains(t, err, "database path")
	})

	t.Run("MissingPortalURL", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
database:
  path: data/test.db
crypto:
  passphrase: secret
  salt: pepper
`))
		assert.ErrorContains(t, err, "base_url")
	})

	t.Run("PlaceholderPassphrase", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
database:
  path: data/test.db
portal:
  base_url: https://portal.example
crypto:
  passphrase: CHANGE_ME
  salt: pepper
`))
		assert.ErrorContains(t, err, "passphrase")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
