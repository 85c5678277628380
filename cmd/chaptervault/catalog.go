package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"chaptervault/pkg/manga"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage tracked publications",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked publications with their chapter marks",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Track every manifest in the manifest directory",
	Args:  cobra.NoArgs,
	RunE:  runCatalogImport,
}

var catalogRenameCmd = &cobra.Command{
	Use:   "rename <internal-id> <folder>",
	Short: "Move a publication to a new folder",
	Long: `Rename the folder a publication is archived in. When the target folder
already exists the two are merged. Files that exist in both folders are left
in the old folder and the rename fails until they are resolved.`,
	Args: cobra.ExactArgs(2),
	RunE: runCatalogRename,
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "remove <internal-id>",
	Short: "Stop tracking a publication",
	Long: `Remove a publication from the catalog together with its scan job.
Archived chapters stay on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogRemove,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogRenameCmd)
	catalogCmd.AddCommand(catalogRemoveCmd)
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, release, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer release()

	pubs, err := e.Catalog().List(context.Background())
	if err != nil {
		return err
	}
	if len(pubs) == 0 {
		printInfo("Catalog is empty", "use 'chaptervault catalog import' or 'chaptervault jobs add'")
		return nil
	}

	t := newTable("Internal ID", "Name", "Folder", "Status", "Downloaded", "Available", "Authors")
	for _, pub := range pubs {
		t.AppendRow(table.Row{
			pub.InternalID,
			pub.SortName,
			pub.Folder(),
			pub.ReleaseStatus.String(),
			manga.FormatNumber(pub.LatestDownloaded()),
			manga.FormatNumber(pub.LatestAvailable()),
			strings.Join(pub.Authors, ", "),
		})
	}
	t.SetCaption("%d publications", len(pubs))
	t.Render()
	return nil
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
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
	tracked, err := e.TrackManifests(context.Background())
	if err != nil {
		return err
	}
	if err := e.Save(); err != nil {
		return err
	}

	printSuccess("Manifests tracked: " + strconv.Itoa(tracked))
	return nil
}

func runCatalogRename(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, release, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer release()

	pub, err := e.Catalog().Rename(context.Background(), args[0], cfg.Download.Root, args[1])
	if err != nil {
		return err
	}
	printSuccess("Publication moved: " + pub.SortName)
	printInfo("Folder", pub.Folder())
	return nil
}

func runCatalogRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, release, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer release()

	ctx := context.Background()
	pub, err := e.Catalog().Get(ctx, args[0])
	if err != nil {
		return err
	}
	if err := e.Restore(); err != nil {
		return err
	}
	removed := e.Untrack(pub)
	if err := e.Catalog().Delete(ctx, pub.InternalID); err != nil {
		return err
	}
	if err := e.Save(); err != nil {
		return err
	}

	printSuccess("Stopped tracking " + pub.SortName)
	printInfo("Jobs removed", strconv.Itoa(removed))
	return nil
}
