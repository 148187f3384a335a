package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Transport TransportConfig `yaml:"transport"`
	Progress  ProgressConfig  `yaml:"progress"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis connection settings for the progress cache and
// distributed locks. An empty Addr disables Redis; the system degrades to
// store-derived reads and PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DispatchConfig holds batching and worker pool settings.
type DispatchConfig struct {
	BatchSize              int   `yaml:"batch_size"`
	Parallelism            int   `yaml:"parallelism"`
	StaggerSeconds         int   `yaml:"stagger_seconds"`
	NumWorkers             int   `yaml:"num_workers"`
	PollIntervalMillis     int   `yaml:"poll_interval_millis"`
	DeliveryTimeoutSeconds int   `yaml:"delivery_timeout_seconds"`
	MaxAttempts            int   `yaml:"max_attempts"`
	BackoffSeconds         []int `yaml:"backoff_seconds"`
}

// StaggerUnit returns the delay unit used to spread batch start times.
func (c DispatchConfig) StaggerUnit() time.Duration {
	return time.Duration(c.StaggerSeconds) * time.Second
}

// PollInterval returns how often workers poll for due batches.
func (c DispatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// DeliveryTimeout returns the per-recipient delivery timeout.
func (c DispatchConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

// Backoff returns the retry backoff schedule for failed batch invocations.
func (c DispatchConfig) Backoff() []time.Duration {
	out := make([]time.Duration, len(c.BackoffSeconds))
	for i, s := range c.BackoffSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// TransportConfig selects and configures the mail transport.
// Mode is "simulated" or "ses".
type TransportConfig struct {
	Mode string `yaml:"mode"`

	// Simulated transport knobs
	SimulatedLatencyMillis int     `yaml:"simulated_latency_millis"`
	SimulatedFailureRate   float64 `yaml:"simulated_failure_rate"`

	// SES settings
	SESRegion    string `yaml:"ses_region"`
	SESAccessKey string `yaml:"ses_access_key"`
	SESSecretKey string `yaml:"ses_secret_key"`
	FromName     string `yaml:"from_name"`
	FromEmail    string `yaml:"from_email"`
}

// ProgressConfig holds progress cache settings.
type ProgressConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

// TTL returns the snapshot time-to-live.
func (c ProgressConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 100
	}
	if cfg.Dispatch.Parallelism == 0 {
		cfg.Dispatch.Parallelism = 10
	}
	if cfg.Dispatch.StaggerSeconds == 0 {
		cfg.Dispatch.StaggerSeconds = 1
	}
	if cfg.Dispatch.NumWorkers == 0 {
		cfg.Dispatch.NumWorkers = 4
	}
	if cfg.Dispatch.PollIntervalMillis == 0 {
		cfg.Dispatch.PollIntervalMillis = 500
	}
	if cfg.Dispatch.DeliveryTimeoutSeconds == 0 {
		cfg.Dispatch.DeliveryTimeoutSeconds = 30
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if len(cfg.Dispatch.BackoffSeconds) == 0 {
		cfg.Dispatch.BackoffSeconds = []int{60, 180, 300}
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = "simulated"
	}
	if cfg.Transport.SimulatedLatencyMillis == 0 {
		cfg.Transport.SimulatedLatencyMillis = 50
	}
	if cfg.Transport.SimulatedFailureRate == 0 {
		cfg.Transport.SimulatedFailureRate = 0.1
	}
	if cfg.Transport.SESRegion == "" {
		cfg.Transport.SESRegion = "us-east-1"
	}
	if cfg.Progress.TTLMinutes == 0 {
		cfg.Progress.TTLMinutes = 5
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if mode := os.Getenv("TRANSPORT_MODE"); mode != "" {
		cfg.Transport.Mode = mode
	}
	if key := os.Getenv("AWS_SES_ACCESS_KEY"); key != "" {
		cfg.Transport.SESAccessKey = key
	}
	if secret := os.Getenv("AWS_SES_SECRET_KEY"); secret != "" {
		cfg.Transport.SESSecretKey = secret
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.Transport.SESRegion = region
	}

	return cfg, nil
}
