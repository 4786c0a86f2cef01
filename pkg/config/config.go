// Package config loads process configuration from defaults, an optional YAML
// file, and environment variables, in that order of precedence.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseDomain is the suffix for auto-assigned hostnames
	DefaultBaseDomain = "renderlite.local"
	// DefaultContainerPort is the port the proxy forwards to
	DefaultContainerPort = 3000
	// DefaultDockerNetwork is the shared managed network containers attach to
	DefaultDockerNetwork = "renderlite"
)

// Config holds all recognized process-level settings
type Config struct {
	// ListenAddr is the REST/SSE bind address of the server process
	ListenAddr string `yaml:"listen_addr"`
	// WorkerListenAddr is the worker's metrics and health bind address
	WorkerListenAddr string `yaml:"worker_listen_addr"`

	// BaseDomain is the suffix for auto-assigned hostnames
	BaseDomain string `yaml:"base_domain"`
	// ContainerPort is the port inside app containers that the proxy targets
	ContainerPort int `yaml:"container_port"`
	// EnableTLS switches router labels to the websecure entrypoint with a
	// certificate resolver
	EnableTLS bool `yaml:"enable_tls"`
	// DockerNetwork is the managed network; it is created out of band
	DockerNetwork string `yaml:"docker_network"`

	// WorkDir is the root for per-deployment working directories
	WorkDir string `yaml:"work_dir"`
	// CloneTimeout bounds the git checkout
	CloneTimeout time.Duration `yaml:"clone_timeout"`
	// BuildTimeout bounds image builds, Dockerfile or buildpack
	BuildTimeout time.Duration `yaml:"build_timeout"`
	// MaxRepoBytes rejects work trees larger than this after clone
	MaxRepoBytes int64 `yaml:"max_repo_bytes"`
	// BuildpackBin is the builder command used when no Dockerfile exists
	BuildpackBin string `yaml:"buildpack_bin"`

	// HealthCheckStartDelay is the pause before the first probe
	HealthCheckStartDelay time.Duration `yaml:"health_check_start_delay"`
	// HealthCheckTimeout is the per-attempt budget unless the service
	// overrides it
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	// HealthCheckRetries is the probe attempt cap
	HealthCheckRetries int `yaml:"health_check_retries"`

	// QueueConcurrency is the worker-goroutine count per queue
	QueueConcurrency int `yaml:"queue_concurrency"`
	// QueueRateMax / QueueRateWindow bound dequeues per rolling window
	QueueRateMax    int           `yaml:"queue_rate_max"`
	QueueRateWindow time.Duration `yaml:"queue_rate_window"`
	// QueueMaxAttempts caps job retries for infrastructure errors
	QueueMaxAttempts int `yaml:"queue_max_attempts"`
	// QueueBackoffBase is the first retry delay; later retries double it
	QueueBackoffBase time.Duration `yaml:"queue_backoff_base"`

	// DatabasePath is the SQLite file path (":memory:" for tests)
	DatabasePath string `yaml:"database_path"`
	// RedisURL is a go-redis URL, e.g. redis://localhost:6379/0
	RedisURL string `yaml:"redis_url"`

	// EncryptionKey is 64 hex chars decoding to the 32-byte AES key.
	// It must be stable across processes and restarts or previously
	// stored secrets become undecryptable.
	EncryptionKey string `yaml:"encryption_key"`

	// MetricsInterval is the hub stats sampling period
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	// ReconcileInterval is the sweep period; ReconcileStartDelay is the
	// one-shot delay after startup
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	ReconcileStartDelay time.Duration `yaml:"reconcile_start_delay"`
	// DeploymentRetention is how many deployment rows to keep per service
	DeploymentRetention int `yaml:"deployment_retention"`
	// FailedContainerTTL ages out containers of FAILED services
	FailedContainerTTL time.Duration `yaml:"failed_container_ttl"`
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		ListenAddr:            ":8080",
		WorkerListenAddr:      ":8081",
		BaseDomain:            DefaultBaseDomain,
		ContainerPort:         DefaultContainerPort,
		EnableTLS:             false,
		DockerNetwork:         DefaultDockerNetwork,
		WorkDir:               os.TempDir(),
		CloneTimeout:          60 * time.Second,
		BuildTimeout:          5 * time.Minute,
		MaxRepoBytes:          500 * 1024 * 1024,
		BuildpackBin:          "nixpacks",
		HealthCheckStartDelay: 5 * time.Second,
		HealthCheckTimeout:    5 * time.Second,
		HealthCheckRetries:    10,
		QueueConcurrency:      2,
		QueueRateMax:          5,
		QueueRateWindow:       60 * time.Second,
		QueueMaxAttempts:      3,
		QueueBackoffBase:      time.Second,
		DatabasePath:          "renderlite.db",
		RedisURL:              "redis://localhost:6379/0",
		MetricsInterval:       5 * time.Second,
		ReconcileInterval:     60 * time.Minute,
		ReconcileStartDelay:   10 * time.Second,
		DeploymentRetention:   10,
		FailedContainerTTL:    24 * time.Hour,
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// non-empty, then environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("LISTEN_ADDR", &c.ListenAddr)
	envString("WORKER_LISTEN_ADDR", &c.WorkerListenAddr)
	envString("BASE_DOMAIN", &c.BaseDomain)
	envInt("CONTAINER_PORT", &c.ContainerPort)
	envBool("ENABLE_TLS", &c.EnableTLS)
	envString("DOCKER_NETWORK", &c.DockerNetwork)
	envString("WORK_DIR", &c.WorkDir)
	envDurationMS("CLONE_TIMEOUT_MS", &c.CloneTimeout)
	envDurationMS("BUILD_TIMEOUT_MS", &c.BuildTimeout)
	envInt64("MAX_REPO_BYTES", &c.MaxRepoBytes)
	envString("BUILDPACK_BIN", &c.BuildpackBin)
	envDurationMS("HEALTH_CHECK_START_DELAY_MS", &c.HealthCheckStartDelay)
	envDurationMS("HEALTH_CHECK_TIMEOUT_MS", &c.HealthCheckTimeout)
	envInt("HEALTH_CHECK_RETRIES", &c.HealthCheckRetries)
	envInt("QUEUE_CONCURRENCY", &c.QueueConcurrency)
	envInt("QUEUE_RATE_MAX", &c.QueueRateMax)
	envDurationMS("QUEUE_RATE_WINDOW_MS", &c.QueueRateWindow)
	envInt("QUEUE_MAX_ATTEMPTS", &c.QueueMaxAttempts)
	envDurationMS("QUEUE_BACKOFF_BASE_MS", &c.QueueBackoffBase)
	envString("DATABASE_PATH", &c.DatabasePath)
	envString("REDIS_URL", &c.RedisURL)
	envString("ENCRYPTION_KEY", &c.EncryptionKey)
	envDurationMS("METRICS_INTERVAL_MS", &c.MetricsInterval)
	envDurationMS("RECONCILE_INTERVAL_MS", &c.ReconcileInterval)
	envDurationMS("RECONCILE_START_DELAY_MS", &c.ReconcileStartDelay)
	envInt("DEPLOYMENT_RETENTION", &c.DeploymentRetention)
	envDurationMS("FAILED_CONTAINER_TTL_MS", &c.FailedContainerTTL)
}

// Validate checks invariants that would otherwise surface as runtime faults
func (c *Config) Validate() error {
	if c.BaseDomain == "" {
		return fmt.Errorf("BASE_DOMAIN must not be empty")
	}
	if c.ContainerPort <= 0 || c.ContainerPort > 65535 {
		return fmt.Errorf("CONTAINER_PORT %d out of range", c.ContainerPort)
	}
	if c.QueueConcurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1")
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if c.EncryptionKey != "" {
		if _, err := c.DecodeEncryptionKey(); err != nil {
			return err
		}
	}
	return nil
}

// DecodeEncryptionKey decodes the hex ENCRYPTION_KEY into the 32-byte AES key
func (c *Config) DecodeEncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDurationMS(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}
