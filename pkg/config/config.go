package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CHAPTERVAULT_"

// Config holds all configuration options for chaptervault
type Config struct {
	// Chapter download and archive settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Rate limiting per request type
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Job scheduling loop
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Publication catalog and connector manifests
	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	// Notification delivery
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Root           string        `yaml:"root" json:"root"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	MinValidSize   int64         `yaml:"min_valid_size" json:"min_valid_size"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	ConcurrentJobs int           `yaml:"concurrent_jobs" json:"concurrent_jobs"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	DirectoryMode  os.FileMode   `yaml:"directory_mode" json:"directory_mode"`
	ArchiveMode    os.FileMode   `yaml:"archive_mode" json:"archive_mode"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"default_per_minute" json:"default_per_minute"`
	ImagePerMinute   int `yaml:"image_per_minute" json:"image_per_minute"`
}

// SchedulerConfig holds job scheduler configuration
type SchedulerConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval" json:"tick_interval"`
	JobsFile         string        `yaml:"jobs_file" json:"jobs_file"`
	LockFile         string        `yaml:"lock_file" json:"lock_file"`
	QueueSize        int           `yaml:"queue_size" json:"queue_size"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" json:"snapshot_interval"`
	ScanInterval     time.Duration `yaml:"scan_interval" json:"scan_interval"`
}

// CatalogConfig holds catalog storage configuration
type CatalogConfig struct {
	Database    string `yaml:"database" json:"database"`
	ManifestDir string `yaml:"manifest_dir" json:"manifest_dir"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	NtfyEndpoint   string        `yaml:"ntfy_endpoint" json:"ntfy_endpoint"`
	NtfyTopic      string        `yaml:"ntfy_topic" json:"ntfy_topic"`
	NtfyAccount    string        `yaml:"ntfy_account" json:"ntfy_account"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	OnSuccess      bool          `yaml:"on_success" json:"on_success"`
	OnFailure      bool          `yaml:"on_failure" json:"on_failure"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	dataDir := DataDirectory()
	return &Config{
		Download: DownloadConfig{
			Root:           "./downloads",
			MaxAttempts:    20,
			MinValidSize:   1024,
			RetryDelay:     1 * time.Second,
			RequestTimeout: 30 * time.Second,
			ConcurrentJobs: 4,
			UserAgent:      "chaptervault/1.0",
			DirectoryMode:  0o770,
			ArchiveMode:    0o664,
		},
		RateLimit: RateLimitConfig{
			DefaultPerMinute: 60,
			ImagePerMinute:   240,
		},
		Scheduler: SchedulerConfig{
			TickInterval:     1 * time.Second,
			JobsFile:         filepath.Join(dataDir, "tasks.json"),
			LockFile:         filepath.Join(dataDir, "chaptervault.lock"),
			QueueSize:        64,
			SnapshotInterval: 30 * time.Second,
			ScanInterval:     1 * time.Hour,
		},
		Catalog: CatalogConfig{
			Database:    filepath.Join(dataDir, "catalog.db"),
			ManifestDir: filepath.Join(dataDir, "manifests"),
		},
		Notifications: NotificationConfig{
			Enabled:        false,
			RequestTimeout: 10 * time.Second,
			OnSuccess:      true,
			OnFailure:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if root := os.Getenv(envPrefix + "DOWNLOAD_ROOT"); root != "" {
		c.Download.Root = root
	}
	if v := os.Getenv(envPrefix + "MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_ATTEMPTS: %w", envPrefix, err))
		} else {
			c.Download.MaxAttempts = n
		}
	}
	if v := os.Getenv(envPrefix + "CONCURRENT_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCONCURRENT_JOBS: %w", envPrefix, err))
		} else {
			c.Download.ConcurrentJobs = n
		}
	}
	if v := os.Getenv(envPrefix + "TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTICK_INTERVAL: %w", envPrefix, err))
		} else {
			c.Scheduler.TickInterval = d
		}
	}
	if jobsFile := os.Getenv(envPrefix + "JOBS_FILE"); jobsFile != "" {
		c.Scheduler.JobsFile = jobsFile
	}
	if db := os.Getenv(envPrefix + "CATALOG_DB"); db != "" {
		c.Catalog.Database = db
	}
	if dir := os.Getenv(envPrefix + "MANIFEST_DIR"); dir != "" {
		c.Catalog.ManifestDir = dir
	}

	// Notifications
	if enabled := os.Getenv(envPrefix + "NOTIFICATIONS_ENABLED"); enabled != "" {
		c.Notifications.Enabled = strings.ToLower(enabled) == "true"
	}
	if endpoint := os.Getenv(envPrefix + "NTFY_ENDPOINT"); endpoint != "" {
		c.Notifications.NtfyEndpoint = endpoint
	}
	if topic := os.Getenv(envPrefix + "NTFY_TOPIC"); topic != "" {
		c.Notifications.NtfyTopic = topic
	}

	if logLevel := os.Getenv(envPrefix + "LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv(envPrefix + "LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".chaptervault.yaml",
		".chaptervault.yml",
		filepath.Join(home, ".config", "chaptervault", "config.yaml"),
		filepath.Join(home, ".config", "chaptervault", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Download.Root == "" {
		errs = append(errs, errors.New("download root is required"))
	}
	if c.Download.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if c.Download.MinValidSize < 0 {
		errs = append(errs, errors.New("min valid size cannot be negative"))
	}
	if c.Download.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.Download.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Download.ConcurrentJobs <= 0 {
		errs = append(errs, errors.New("concurrent jobs must be positive"))
	}

	if c.RateLimit.DefaultPerMinute <= 0 || c.RateLimit.ImagePerMinute <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}

	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.Scheduler.JobsFile == "" {
		errs = append(errs, errors.New("jobs file is required"))
	}
	if c.Scheduler.QueueSize <= 0 {
		errs = append(errs, errors.New("queue size must be positive"))
	}

	if c.Catalog.Database == "" {
		errs = append(errs, errors.New("catalog database is required"))
	}

	if c.Notifications.Enabled && c.Notifications.NtfyEndpoint == "" {
		errs = append(errs, errors.New("ntfy endpoint is required when notifications are enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validFormats := map[string]bool{"console": true, "json": true, "": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if root, ok := flags["download-root"].(string); ok && root != "" {
		c.Download.Root = root
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentJobs = concurrent
	}
	if jobsFile, ok := flags["jobs-file"].(string); ok && jobsFile != "" {
		c.Scheduler.JobsFile = jobsFile
	}
	if manifests, ok := flags["manifest-dir"].(string); ok && manifests != "" {
		c.Catalog.ManifestDir = manifests
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if notify, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = notify
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".chaptervault.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// DataDirectory returns the per-user data directory for job files, the catalog and locks
func DataDirectory() string {
	if dir := os.Getenv(envPrefix + "DATA_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chaptervault")
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "chaptervault")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "chaptervault")
		}
		return filepath.Join(home, "chaptervault")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "chaptervault")
		}
		return filepath.Join(home, ".local", "share", "chaptervault")
	}
}
