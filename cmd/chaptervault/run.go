package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chaptervault/internal/engine"
	"chaptervault/pkg/logger"
)

var (
	trackManifests bool
	statusInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler until interrupted",
	Long: `Run restores the persisted jobs, schedules a scan for every tracked
publication and downloads new chapters until it receives SIGINT or SIGTERM.

On shutdown running downloads are cancelled and the job file is written, so
interrupted chapters start again on the next run.`,
	Example: `  # Run with the default configuration
  chaptervault run

  # Track every manifest in the manifest directory first
  chaptervault run --track-manifests

  # Archive to a different directory with more parallel jobs
  chaptervault run --download-root /srv/manga --concurrent 8`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&trackManifests, "track-manifests", false, "track every manifest in the manifest directory before starting")
	runCmd.Flags().DurationVar(&statusInterval, "status-interval", time.Minute, "how often to log the job count (0 disables)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	e, release, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Restore(); err != nil {
		return err
	}
	if trackManifests {
		tracked, err := e.TrackManifests(ctx)
		if err != nil {
			return fmt.Errorf("failed to track manifests: %w", err)
		}
		printInfo("Manifests tracked", strconv.Itoa(tracked))
	}

	printInfo("Download root", cfg.Download.Root)
	printInfo("Job file", cfg.Scheduler.JobsFile)
	printHighlight("Scheduler running, press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(gctx)
	})
	if statusInterval > 0 {
		g.Go(func() error {
			reportStatus(gctx, e, statusInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	printSuccess("Scheduler stopped, jobs saved")
	return nil
}

// reportStatus logs how many jobs exist and how many chapter downloads are
// pending until ctx ends
func reportStatus(ctx context.Context, e *engine.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records := e.Scheduler().Records()
			downloads := 0
			for _, rec := range records {
				if rec.Chapter != nil {
					downloads++
				}
			}
			logger.WithFields(map[string]interface{}{
				"jobs":      len(records),
				"downloads": downloads,
			}).Info("Scheduler status")
		}
	}
}
