package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
// Runtime crawler knobs (concurrency cap, timeouts, retry counts) live in the
// settings row of the store and are managed by the settings provider; this
// struct covers the ambient process configuration only.
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Paths       PathsConfig      `toml:"paths"`
	Supervisor  SupervisorConfig `toml:"supervisor"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Logging     LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size
	WALMode       bool   `toml:"wal_mode"`        // Enable WAL journal mode
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock wait timeout
}

// PathsConfig contains the filesystem roots the controller consumes
type PathsConfig struct {
	AppRoot           string `toml:"app_root"`           // Root for db and logs (default: "./app")
	Storage           string `toml:"storage"`            // Storage root for task dumps and the browser snapshot (default: "./storage")
	CrawlerConfig     string `toml:"crawler_config"`     // Directory of <site_id>.json seed files
	CrawlerCredential string `toml:"crawler_credential"` // Directory containing credentials.json
}

// SupervisorConfig contains process supervisor tuning
type SupervisorConfig struct {
	TickInterval  time.Duration `toml:"tick_interval"`   // Poll interval for worker liveness (default: 5s)
	SpawnsPerSec  float64       `toml:"spawns_per_sec"`  // Worker spawn rate limit
	WorkerBinary  string        `toml:"worker_binary"`   // Path to the warden-worker executable
	KillGraceWait time.Duration `toml:"kill_grace_wait"` // Wait after SIGTERM before SIGKILL (default: 5s)
}

// SchedulerConfig contains the periodic task scheduler configuration
type SchedulerConfig struct {
	Enabled         bool   `toml:"enabled"`          // Enable cron-driven task admission
	ScrapeSchedule  string `toml:"scrape_schedule"`  // Cron expression for scrape tasks
	CheckinSchedule string `toml:"checkin_schedule"` // Cron expression for daily check-in tasks
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	Dir    string   `toml:"dir"`    // Log directory root (default: <app_root>/logs)
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./app/warden.db",
				CacheSizeMB:   64,
				WALMode:       true,
				BusyTimeoutMS: 5000,
			},
		},
		Paths: PathsConfig{
			AppRoot:           "./app",
			Storage:           "./storage",
			CrawlerConfig:     "./services/sites/implementations",
			CrawlerCredential: "./services/sites/credentials",
		},
		Supervisor: SupervisorConfig{
			TickInterval:  5 * time.Second,
			SpawnsPerSec:  2,
			WorkerBinary:  "", // resolved next to the controller binary when empty
			KillGraceWait: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			ScrapeSchedule:  "0 */6 * * *", // Every 6 hours
			CheckinSchedule: "30 8 * * *",  // Daily, 08:30 local
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("WARDEN_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("WARDEN_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("WARDEN_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if dbPath := os.Getenv("WARDEN_DB_PATH"); dbPath != "" {
		config.Storage.SQLite.Path = dbPath
	}

	// Filesystem roots (shared with the settings provider backfill)
	if storagePath := os.Getenv("STORAGE_PATH"); storagePath != "" {
		config.Paths.Storage = storagePath
	}
	if configPath := os.Getenv("CRAWLER_CONFIG_PATH"); configPath != "" {
		config.Paths.CrawlerConfig = configPath
	}
	if credentialPath := os.Getenv("CRAWLER_CREDENTIAL_PATH"); credentialPath != "" {
		config.Paths.CrawlerCredential = credentialPath
	}

	// Supervisor configuration
	if tick := os.Getenv("WARDEN_SUPERVISOR_TICK"); tick != "" {
		if d, err := time.ParseDuration(tick); err == nil {
			config.Supervisor.TickInterval = d
		}
	}
	if workerBin := os.Getenv("WARDEN_WORKER_BINARY"); workerBin != "" {
		config.Supervisor.WorkerBinary = workerBin
	}

	// Scheduler configuration
	if enabled := os.Getenv("WARDEN_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("WARDEN_SCRAPE_SCHEDULE"); schedule != "" {
		config.Scheduler.ScrapeSchedule = schedule
	}
	if schedule := os.Getenv("WARDEN_CHECKIN_SCHEDULE"); schedule != "" {
		config.Scheduler.CheckinSchedule = schedule
	}

	// Logging configuration
	if level := os.Getenv("WARDEN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("WARDEN_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// SplitList splits a comma-separated environment list into trimmed entries.
// Used for CHECKIN_SITES and CAPTCHA_SKIP_SITES.
func SplitList(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
