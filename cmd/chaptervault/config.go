package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage chaptervault configuration.

Configuration sources, highest priority first:
  1. Command line flags
  2. Environment variables (CHAPTERVAULT_*)
  3. .env files (./.env and ~/.chaptervault.env)
  4. Configuration file
  5. Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the paths it names",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# chaptervault configuration

download:
  # Directory holding one folder per publication
  root: "./downloads"

  # Attempts per image before the chapter fails
  max_attempts: 20

  # Images smaller than this many bytes are retried
  min_valid_size: 1024

  # Pause between attempts on the same image
  retry_delay: 1s

  # Timeout of a single HTTP request
  request_timeout: 30s

  # Jobs run at once
  concurrent_jobs: 4

  user_agent: "chaptervault/1.0"

  # Permissions of publication folders and archives
  directory_mode: 0o770
  archive_mode: 0o664

# Requests per minute, per request type
rate_limit:
  default_per_minute: 60
  image_per_minute: 240

scheduler:
  # How often due jobs are looked for
  tick_interval: 1s

  # Persisted job set, written periodically and on shutdown
  # jobs_file: "~/.local/share/chaptervault/tasks.json"
  # lock_file: "~/.local/share/chaptervault/chaptervault.lock"

  queue_size: 64
  snapshot_interval: 30s

  # Default interval between publication scans
  scan_interval: 1h

catalog:
  # database: "~/.local/share/chaptervault/catalog.db"
  # manifest_dir: "~/.local/share/chaptervault/manifests"

notifications:
  enabled: false
  ntfy_endpoint: "https://ntfy.sh"
  ntfy_topic: "chaptervault"

  # Stored account used for Basic auth (see 'chaptervault auth login')
  ntfy_account: ""

  request_timeout: 10s
  on_success: true
  on_failure: true

logging:
  # debug, info, warn, error
  level: "info"

  # console or json
  format: "console"

  # Log file path; empty logs to stderr only
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(os.Getenv("HOME"), ".config", "chaptervault", "config.yaml")
	if len(args) > 0 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	printSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the download root and notification settings")
	fmt.Println("2. Run 'chaptervault config validate' to check the configuration")
	fmt.Println("3. Put publication manifests in the manifest directory and run 'chaptervault run --track-manifests'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	printHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	if configFile != "" {
		fmt.Printf("\n%s\n", dim("file: "+configFile))
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		printError("Configuration validation failed")
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				fmt.Printf("  - %s\n", e)
			}
		}
		return err
	}

	var problems []string
	for _, dir := range []string{
		cfg.Download.Root,
		filepath.Dir(cfg.Scheduler.JobsFile),
		filepath.Dir(cfg.Catalog.Database),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create %s: %v", dir, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if len(problems) > 0 {
		printError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return errors.New("configuration paths are not usable")
	}

	if _, err := os.Stat(cfg.Catalog.ManifestDir); err != nil {
		printWarning("Manifest directory missing", cfg.Catalog.ManifestDir)
	}
	if cfg.Notifications.Enabled && cfg.Notifications.NtfyTopic == "" {
		printWarning("Notifications enabled without an ntfy topic")
	}

	printSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Download root: %s\n", cfg.Download.Root)
	fmt.Printf("  Concurrent jobs: %d\n", cfg.Download.ConcurrentJobs)
	fmt.Printf("  Attempts per image: %d\n", cfg.Download.MaxAttempts)
	fmt.Printf("  Rate limits: %d/min default, %d/min images\n", cfg.RateLimit.DefaultPerMinute, cfg.RateLimit.ImagePerMinute)
	fmt.Printf("  Job file: %s\n", cfg.Scheduler.JobsFile)
	fmt.Printf("  Catalog: %s\n", cfg.Catalog.Database)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
