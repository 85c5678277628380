package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chaptervault/pkg/config"
	"chaptervault/pkg/logger"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	downloadRoot  string
	jobsFile      string
	manifestDir   string
	concurrent    int
)

var rootCmd = &cobra.Command{
	Use:   "chaptervault",
	Short: "Keep a local archive of manga chapters up to date",
	Long: `chaptervault tracks publications, polls their chapter lists and archives
every new chapter as a CBZ file with ComicInfo metadata.

Features:
  - Recurring publication scans with persistent job state
  - Resilient image downloads with per-image retries and format detection
  - Duplicate detection against archives already on disk
  - ntfy notifications for finished chapters
  - Credentials kept in the system keychain or an encrypted file`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setColor(!noColor && term.IsTerminal(int(os.Stdout.Fd())))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/chaptervault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", false, "send ntfy notifications")
	rootCmd.PersistentFlags().StringVarP(&downloadRoot, "download-root", "o", "", "directory holding the archive")
	rootCmd.PersistentFlags().StringVar(&jobsFile, "jobs-file", "", "path of the persisted job file")
	rootCmd.PersistentFlags().StringVar(&manifestDir, "manifest-dir", "", "directory holding publication manifests")
	rootCmd.PersistentFlags().IntVar(&concurrent, "concurrent", 0, "number of jobs run at once")

	rootCmd.SetVersionTemplate(`chaptervault {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges the config file, the environment and the flags the user
// actually set, then initializes the global logger
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := make(map[string]interface{})
	changed := cmd.Flags().Changed

	if changed("download-root") {
		flags["download-root"] = downloadRoot
	}
	if changed("concurrent") {
		flags["concurrent"] = concurrent
	}
	if changed("jobs-file") {
		flags["jobs-file"] = jobsFile
	}
	if changed("manifest-dir") {
		flags["manifest-dir"] = manifestDir
	}
	if changed("log-level") {
		flags["log-level"] = logLevel
	}
	if changed("notifications") {
		flags["notifications"] = notifications
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
