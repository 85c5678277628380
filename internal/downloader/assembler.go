package downloader

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/h2non/filetype"
	fixzip "github.com/hidez8891/zip"
	"github.com/maruel/natural"
	"go.uber.org/multierr"

	"chaptervault/pkg/errors"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/metadata"
	"chaptervault/pkg/progress"
	"chaptervault/pkg/storage"
)

const (
	DefaultDirectoryMode os.FileMode = 0o770
	DefaultArchiveMode   os.FileMode = 0o775

	// fallbackExtension is used until the staged bytes are sniffed
	fallbackExtension = "img"
	partSuffix        = ".part"
)

// AssemblerOptions configures an Assembler
type AssemblerOptions struct {
	Root          string
	DirectoryMode os.FileMode
	ArchiveMode   os.FileMode
	// StagingDir is the parent of per-chapter staging directories; empty uses os.TempDir
	StagingDir string
}

// Assembler downloads a chapter's images into a staging directory and seals
// them with a ComicInfo.xml into one .cbz archive.
type Assembler struct {
	opts     AssemblerOptions
	fetcher  ImageFetcher
	resolver *storage.Resolver
	markers  *storage.MarkerStore
	chapters *keyedMutex
	log      logger.Logger
}

// NewAssembler creates an assembler writing below opts.Root
func NewAssembler(opts AssemblerOptions, fetcher ImageFetcher, resolver *storage.Resolver, markers *storage.MarkerStore, log logger.Logger) *Assembler {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.DirectoryMode == 0 {
		opts.DirectoryMode = DefaultDirectoryMode
	}
	if opts.ArchiveMode == 0 {
		opts.ArchiveMode = DefaultArchiveMode
	}
	return &Assembler{
		opts:     opts,
		fetcher:  fetcher,
		resolver: resolver,
		markers:  markers,
		chapters: newKeyedMutex(),
		log:      log.WithField("component", "assembler"),
	}
}

// Assemble produces the chapter archive and returns its status:
// 200 written, 201 already present, 204 no images, 408 cancelled,
// the failing image's status, or 500 for local failures.
// The token is always complete when Assemble returns.
func (a *Assembler) Assemble(ctx context.Context, ch manga.Chapter, urls []string, referrer string, token *progress.Token) errors.Status {
	if token == nil {
		token = progress.NewToken()
	}
	start := time.Now()

	status := a.assemble(ctx, ch, urls, referrer, token)
	token.Complete()

	logger.LogChapterResult(a.log, publicationName(ch), ch.FileName(), int(status), time.Since(start))
	return status
}

func (a *Assembler) assemble(ctx context.Context, ch manga.Chapter, urls []string, referrer string, token *progress.Token) errors.Status {
	if ch.Publication == nil {
		a.log.Error("Chapter has no publication")
		return errors.StatusFailed
	}
	if cancelled(ctx, token) {
		return errors.StatusCancelled
	}

	archivePath := ch.ArchivePath(a.opts.Root)
	unlock := a.chapters.Lock(ch.Key())
	defer unlock()

	if a.resolver.IsDownloaded(ch) {
		return errors.StatusCreated
	}

	token.AddTotal(len(urls))

	dir, err := ch.Publication.EnsureFolder(a.opts.Root, a.opts.DirectoryMode)
	if err != nil {
		a.log.WithError(err).ErrorWithFields("Cannot create publication folder", map[string]interface{}{
			"publication": publicationName(ch),
		})
		return errors.StatusFailed
	}

	fl, err := lockFolder(ctx, dir)
	if err != nil {
		if cancelled(ctx, token) {
			return errors.StatusCancelled
		}
		a.log.WithError(err).Error("Cannot lock publication folder")
		return errors.StatusFailed
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			a.log.WithError(err).Warn("Failed to release folder lock")
		}
	}()

	if _, err := metadata.WriteSeriesInfo(dir, ch.Publication, false, 0); err != nil {
		a.log.WithError(err).Warn("Failed to write series info")
	}

	if isRegularFile(archivePath) {
		a.log.DebugWithFields("Archive already exists, refreshing marker", map[string]interface{}{
			"path": archivePath,
		})
		if err := a.writeMarker(ch, archivePath); err != nil {
			a.log.WithError(err).Warn("Failed to write marker")
		}
		return errors.StatusCreated
	}

	if len(urls) == 0 {
		a.log.InfoWithFields("No images found", map[string]interface{}{
			"chapter": ch.String(),
		})
		return errors.StatusNoContent
	}

	staging, err := os.MkdirTemp(a.opts.StagingDir, "chaptervault-")
	if err != nil {
		a.log.WithError(err).Error("Cannot create staging directory")
		return errors.StatusFailed
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			a.log.WithError(err).Warn("Failed to remove staging directory")
		}
	}()

	for i, imageURL := range urls {
		if cancelled(ctx, token) {
			return errors.StatusCancelled
		}

		ext := ImageExtension(imageURL)
		if ext == "" {
			ext = fallbackExtension
		}
		imagePath := filepath.Join(staging, fmt.Sprintf("%d.%s", i, ext))

		a.log.DebugWithFields("Downloading image", map[string]interface{}{
			"chapter": ch.String(),
			"image":   fmt.Sprintf("%03d/%03d", i+1, len(urls)),
		})

		status := a.fetcher.FetchOne(ctx, FetchRequest{
			URL:      imageURL,
			Path:     imagePath,
			Referrer: referrer,
			Chapter:  ch,
			Index:    i + 1,
			Token:    token,
		})
		if status != errors.StatusOK && cancelled(ctx, token) {
			return errors.StatusCancelled
		}
		// any non-200, including 204, aborts the chapter
		if status != errors.StatusOK {
			a.log.WarnWithFields("Aborting chapter", map[string]interface{}{
				"chapter": ch.String(),
				"image":   i + 1,
				"status":  int(status),
			})
			return status
		}

		if ext == fallbackExtension {
			if err := sniffExtension(imagePath); err != nil {
				a.log.WithError(err).Debug("Could not determine image type")
			}
		}
		token.Increment()
	}

	if cancelled(ctx, token) {
		return errors.StatusCancelled
	}

	if err := writeComicInfo(staging, ch); err != nil {
		a.log.WithError(err).Error("Cannot write ComicInfo.xml")
		return errors.StatusFailed
	}

	if err := a.seal(staging, archivePath); err != nil {
		a.log.WithError(err).ErrorWithFields("Cannot create archive", map[string]interface{}{
			"path": archivePath,
		})
		return errors.StatusFailed
	}

	var finishErr error
	finishErr = multierr.Append(finishErr, a.writeMarker(ch, archivePath))
	finishErr = multierr.Append(finishErr, os.Chmod(archivePath, a.opts.ArchiveMode))
	if finishErr != nil {
		a.log.WithError(finishErr).Warn("Archive written with follow-up errors")
	}

	ch.Publication.UpdateLatestDownloaded(ch)
	return errors.StatusOK
}

// seal zips every staged file into archivePath. The zip is built next to the
// target and renamed into place, so the canonical path never holds a partial file.
func (a *Assembler) seal(staging, archivePath string) (err error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("read staging: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(natural.StringSlice(names))

	partPath := archivePath + partSuffix
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, a.opts.ArchiveMode)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, removeIfExists(partPath))
		}
	}()

	zw := fixzip.NewWriter(out)
	for _, name := range names {
		if err = addToZip(zw, staging, name); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return err
		}
	}
	if err = zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync archive: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if err = verifyArchive(partPath, len(names)); err != nil {
		return err
	}
	if err = os.Rename(partPath, archivePath); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

func addToZip(zw *fixzip.Writer, dir, name string) error {
	method := fixzip.Store
	if name == metadata.ComicInfoName {
		method = fixzip.Deflate
	}
	w, err := zw.CreateHeader(&fixzip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// verifyArchive re-opens the zip and checks the entry count
func verifyArchive(path string, want int) error {
	r, err := fixzip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("verify archive: %w", err)
	}
	defer r.Close()
	if len(r.File) != want {
		return fmt.Errorf("verify archive: %d entries, want %d", len(r.File), want)
	}
	return nil
}

func writeComicInfo(dir string, ch manga.Chapter) error {
	data, err := metadata.NewComicInfo(ch).Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadata.ComicInfoName), data, 0o644)
}

func (a *Assembler) writeMarker(ch manga.Chapter, archivePath string) error {
	abs, err := filepath.Abs(archivePath)
	if err != nil {
		abs = archivePath
	}
	return a.markers.Write(ch, abs)
}

// ImageExtension returns the lower-cased extension of the URL's path, without
// the dot. It returns "" when the URL has none or it is not a plausible extension.
func ImageExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" || len(ext) > 5 {
		return ""
	}
	return strings.ToLower(ext)
}

// sniffExtension renames a staged file to the extension its content reveals
func sniffExtension(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	f.Close()
	if err != nil && !stderrors.Is(err, io.ErrUnexpectedEOF) && !stderrors.Is(err, io.EOF) {
		return err
	}

	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return fmt.Errorf("unknown content type for %s", filepath.Base(path))
	}
	return os.Rename(path, strings.TrimSuffix(path, fallbackExtension)+kind.Extension)
}

func cancelled(ctx context.Context, token *progress.Token) bool {
	if ctx.Err() != nil {
		token.Cancel()
	}
	return token.Cancelled()
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func publicationName(ch manga.Chapter) string {
	if ch.Publication == nil {
		return ""
	}
	return ch.Publication.SortName
}

