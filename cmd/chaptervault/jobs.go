package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"chaptervault/pkg/checkpoint"
	"chaptervault/pkg/errors"
	"chaptervault/pkg/logger"
)

var jobInterval time.Duration

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and edit the persisted job set",
	Long: `Inspect and edit the job file.

Listing reads the file written by a running scheduler. Adding and removing
jobs needs the instance lock, so stop the scheduler first.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <manifest>",
	Short: "Track a publication and schedule its scan",
	Long: `Import a publication from a manifest and add a recurring scan job.

The manifest may be an id in the manifest directory, a file path or an
http(s) URL.`,
	Example: `  # Track a manifest from the manifest directory
  chaptervault jobs add alpha

  # Track a remote manifest, scanning every six hours
  chaptervault jobs add https://example.org/alpha.yaml --interval 6h`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsAdd,
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a job from the job file",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRemove,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsAddCmd)
	jobsCmd.AddCommand(jobsRemoveCmd)

	jobsAddCmd.Flags().DurationVar(&jobInterval, "interval", 0, "scan interval (default from scheduler.scan_interval)")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	manager, err := checkpoint.NewManager(cfg.Scheduler.JobsFile, logger.GetLogger())
	if err != nil {
		return err
	}
	snapshot, err := manager.Load()
	if err != nil {
		return err
	}

	if len(snapshot.Jobs) == 0 {
		printInfo("No jobs", "use 'chaptervault jobs add <manifest>' to track a publication")
		return nil
	}

	t := newTable("ID", "Kind", "Last Run", "Next Run", "Status", "Progress")
	for _, rec := range snapshot.Jobs {
		t.AppendRow(table.Row{
			rec.ID,
			rec.Kind,
			formatTime(rec.LastExecution),
			nextRun(rec),
			formatStatus(rec.LastStatus),
			formatProgress(rec),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(snapshot.Jobs)})
	t.Render()

	if !snapshot.SavedAt.IsZero() {
		fmt.Println(dim("saved " + snapshot.SavedAt.Local().Format(time.DateTime)))
	}
	return nil
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	e, release, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer release()

	if err := e.Restore(); err != nil {
		return err
	}
	pub, err := e.Track(context.Background(), args[0], jobInterval)
	if err != nil {
		return err
	}
	if err := e.Save(); err != nil {
		return err
	}

	printSuccess("Tracking " + pub.SortName)
	printInfo("Folder", pub.Folder())
	printInfo("Internal ID", pub.InternalID)
	return nil
}

func runJobsRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	e, release, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer release()

	if err := e.Restore(); err != nil {
		return err
	}
	if !e.Scheduler().Remove(args[0]) {
		return fmt.Errorf("no job with id %q", args[0])
	}
	if err := e.Save(); err != nil {
		return err
	}

	printSuccess("Job removed: " + args[0])
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func nextRun(rec checkpoint.JobRecord) string {
	if rec.Interval <= 0 {
		return "once"
	}
	if rec.LastExecution.IsZero() {
		return "now"
	}
	return formatTime(rec.LastExecution.Add(time.Duration(rec.Interval)))
}

func formatStatus(code int) string {
	if code == 0 {
		return "-"
	}
	status := errors.Status(code)
	if status.Success() {
		return green(status.String())
	}
	return red(status.String())
}

func formatProgress(rec checkpoint.JobRecord) string {
	if rec.Progress == nil || rec.Progress.Total == 0 {
		return "-"
	}
	if rec.Chapter == nil {
		return strconv.FormatInt(rec.Progress.Completed, 10)
	}
	return rec.Progress.Bar(20)
}
