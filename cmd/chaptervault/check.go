package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"chaptervault/internal/connector"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/ratelimit"
	"chaptervault/pkg/storage"
	"chaptervault/pkg/transport"
)

var checkCmd = &cobra.Command{
	Use:   "check <manifest> [chapter]",
	Short: "Show which chapters are already archived",
	Long: `Check lists the chapters of a manifest and reports, for each one, whether
an archive already exists and which lookup rule found it. Give a chapter
number to check a single chapter.

Check only reads the archive and may run next to the scheduler.`,
	Example: `  # Check every chapter of a manifest
  chaptervault check alpha

  # Check one chapter
  chaptervault check alpha 12.5`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	client := transport.NewClient(transport.Options{
		Timeout:   cfg.Download.RequestTimeout,
		UserAgent: cfg.Download.UserAgent,
		Limits:    ratelimit.NewKeyed(cfg.RateLimit.DefaultPerMinute, nil),
	}, log)
	defer client.Close()

	manifests := connector.NewManifestConnector(cfg.Catalog.ManifestDir, client, log)
	resolver := storage.NewResolver(cfg.Download.Root, storage.NewMarkerStore(cfg.Download.Root, storage.DefaultMarkerMode), log)

	ctx := context.Background()
	pub, err := manifests.FetchPublicationMetadata(ctx, args[0])
	if err != nil {
		return err
	}
	chapters, err := manifests.ListChapters(ctx, pub)
	if err != nil {
		return err
	}

	if len(args) == 2 {
		number, err := manga.ParseNumber(args[1])
		if err != nil {
			return fmt.Errorf("invalid chapter number %q: %w", args[1], err)
		}
		var selected []manga.Chapter
		for _, ch := range chapters {
			if ch.Number == number {
				selected = append(selected, ch)
			}
		}
		if len(selected) == 0 {
			return fmt.Errorf("%s has no chapter %s", pub.SortName, manga.FormatNumber(number))
		}
		chapters = selected
	}

	printInfo("Publication", pub.SortName)
	printInfo("Folder", pub.Folder())

	archived := 0
	t := newTable("Chapter", "Archived", "Rule", "Path")
	for _, ch := range chapters {
		match, ok, err := resolver.Resolve(ch)
		switch {
		case err != nil:
			t.AppendRow(table.Row{ch.String(), red("error"), "", err.Error()})
		case ok:
			archived++
			t.AppendRow(table.Row{ch.String(), green("yes"), match.Rule, match.Path})
		default:
			t.AppendRow(table.Row{ch.String(), dim("no"), "", ""})
		}
	}
	t.SetCaption("%d of %d chapters archived", archived, len(chapters))
	t.Render()
	return nil
}
