package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Portal      PortalConfig      `yaml:"portal"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Booking     BookingConfig     `yaml:"booking"`
	Session     SessionConfig     `yaml:"session"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Reminders   ReminderConfig    `yaml:"reminders"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	API         APIConfig         `yaml:"api"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Exports     ExportConfig      `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type PortalConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestBurst      int           `yaml:"request_burst"`
}

type CryptoConfig struct {
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"`
}

// BookingConfig carries the empirically tuned processor constants. They are
// configuration, not invariants: the defaults match observed behavior of one
// particular portal.
type BookingConfig struct {
	WindowHours        int           `yaml:"window_hours"`         // eligibility window before class start
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`  // in_progress older than this is reclaimed
	MaxRetries         int           `yaml:"max_retries"`          // generic failure budget
	NoMatchRetries     int           `yaml:"no_match_retries"`     // tighter budget for match failures
	MatchThreshold     float64       `yaml:"match_threshold"`      // 0-100 similarity acceptance
	FailedResetAfter   time.Duration `yaml:"failed_reset_after"`   // failed records older than this return to pending
}

type SessionConfig struct {
	CooldownThreshold int           `yaml:"cooldown_threshold"` // consecutive login failures before cooldown
	CooldownDuration  time.Duration `yaml:"cooldown_duration"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

type SchedulerConfig struct {
	ProcessInterval  time.Duration `yaml:"process_interval"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	ResetInterval    time.Duration `yaml:"reset_interval"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	PoolSize         int           `yaml:"pool_size"`
}

type ReminderConfig struct {
	LeadMin time.Duration `yaml:"lead_min"` // earliest pre-start distance that still fires
	LeadMax time.Duration `yaml:"lead_max"`
}

type DiagnosticsConfig struct {
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	TokenTTL  time.Duration      `yaml:"token_ttl"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already be populated.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing so secrets stay out of the file.
	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "gabs"
	}
	if c.Portal.UserAgent == "" {
		c.Portal.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	}
	if c.Portal.RequestTimeout <= 0 {
		c.Portal.RequestTimeout = 30 * time.Second
	}
	if c.Portal.RequestsPerSecond <= 0 {
		c.Portal.RequestsPerSecond = 2
	}
	if c.Portal.RequestBurst <= 0 {
		c.Portal.RequestBurst = 4
	}
	if c.Booking.WindowHours <= 0 {
		c.Booking.WindowHours = 48
	}
	if c.Booking.StalenessThreshold <= 0 {
		c.Booking.StalenessThreshold = 10 * time.Minute
	}
	if c.Booking.MaxRetries <= 0 {
		c.Booking.MaxRetries = 3
	}
	if c.Booking.NoMatchRetries <= 0 {
		c.Booking.NoMatchRetries = 2
	}
	if c.Booking.MatchThreshold <= 0 {
		c.Booking.MatchThreshold = 50
	}
	if c.Booking.FailedResetAfter <= 0 {
		c.Booking.FailedResetAfter = 24 * time.Hour
	}
	if c.Session.CooldownThreshold <= 0 {
		c.Session.CooldownThreshold = 3
	}
	if c.Session.CooldownDuration <= 0 {
		c.Session.CooldownDuration = 15 * time.Minute
	}
	if c.Session.CacheTTL <= 0 {
		c.Session.CacheTTL = time.Hour
	}
	if c.Scheduler.ProcessInterval <= 0 {
		c.Scheduler.ProcessInterval = time.Minute
	}
	if c.Scheduler.ReminderInterval <= 0 {
		c.Scheduler.ReminderInterval = time.Minute
	}
	if c.Scheduler.ResetInterval <= 0 {
		c.Scheduler.ResetInterval = 24 * time.Hour
	}
	if c.Scheduler.RefreshInterval <= 0 {
		c.Scheduler.RefreshInterval = 6 * time.Hour
	}
	if c.Scheduler.PoolSize <= 0 {
		c.Scheduler.PoolSize = 2
	}
	if c.Reminders.LeadMin <= 0 {
		c.Reminders.LeadMin = 3*time.Hour + 25*time.Minute
	}
	if c.Reminders.LeadMax <= 0 {
		c.Reminders.LeadMax = 3*time.Hour + 35*time.Minute
	}
	if c.Diagnostics.Path == "" {
		c.Diagnostics.Path = "diagnostics"
	}
	if c.Diagnostics.QueueSize <= 0 {
		c.Diagnostics.QueueSize = 100
	}
	if c.API.Port <= 0 {
		c.API.Port = 8080
	}
	if c.API.TokenTTL <= 0 {
		c.API.TokenTTL = 24 * time.Hour
	}
	if c.API.RateLimit.RPS <= 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst <= 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusPort <= 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Portal.BaseURL == "" {
		return errors.New("portal base_url is required")
	}
	if c.Crypto.Passphrase == "" || c.Crypto.Passphrase == "CHANGE_ME" {
		return errors.New("crypto passphrase is required")
	}
	if c.Reminders.LeadMin >= c.Reminders.LeadMax {
		return errors.New("reminders lead_min must be below lead_max")
	}
	return nil
}
