package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Booking    BookingConfig    `yaml:"booking"`
	Lock       LockConfig       `yaml:"lock"`
	Sync       SyncConfig       `yaml:"sync"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Evidence   EvidenceConfig   `yaml:"evidence"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// BookingConfig holds booking domain settings.
type BookingConfig struct {
	// Timezone is the canonical reference timezone all schedule dates and
	// times of day are resolved in, e.g. "Asia/Shanghai". Empty means UTC.
	Timezone string `yaml:"timezone"`
}

// LockConfig holds the action-lock lease settings.
type LockConfig struct {
	LeaseTTLSeconds int `yaml:"lease_ttl_seconds"`
}

// SyncConfig holds the event synchronizer tuning knobs. The echo window and
// the pending grace period are tuned heuristics, so they stay configurable.
type SyncConfig struct {
	StaleToleranceMS int `yaml:"stale_tolerance_ms"`
	EchoWindowMS     int `yaml:"echo_window_ms"`
	PendingGraceMS   int `yaml:"pending_grace_ms"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size        int `yaml:"size"`
	QueueSize   int `yaml:"queue_size"`
	MaxAttempts int `yaml:"max_attempts"`
}

// SweeperConfig holds the configuration for the auto-finish sweeper.
type SweeperConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// EvidenceConfig holds the local deposit-evidence storage settings.
type EvidenceConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Lock.LeaseTTLSeconds <= 0 {
		cfg.Lock.LeaseTTLSeconds = 15
	}

	if cfg.Sync.StaleToleranceMS <= 0 {
		cfg.Sync.StaleToleranceMS = 100
	}
	if cfg.Sync.EchoWindowMS <= 0 {
		cfg.Sync.EchoWindowMS = 500
	}
	if cfg.Sync.PendingGraceMS <= 0 {
		cfg.Sync.PendingGraceMS = 2000
	}
	if cfg.Sync.SubscriberBuffer <= 0 {
		cfg.Sync.SubscriberBuffer = 32
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}
	if cfg.WorkerPool.MaxAttempts <= 0 {
		cfg.WorkerPool.MaxAttempts = 3
	}

	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	cfg.Sweeper.Interval = time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second

	return &cfg, nil
}
