package downloader

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"chaptervault/pkg/errors"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/manga"
	"chaptervault/pkg/notify"
	"chaptervault/pkg/progress"
	"chaptervault/pkg/ratelimit"
	"chaptervault/pkg/retry"
	"chaptervault/pkg/transport"
)

// Fetch loop defaults
const (
	DefaultMaxAttempts  = 20
	DefaultMinValidSize = 1024
	DefaultRetryDelay   = 1 * time.Second
)

// FetchRequest describes one image to download
type FetchRequest struct {
	URL      string
	Path     string
	Referrer string
	// Chapter and Index only label notifications
	Chapter manga.Chapter
	Index   int
	// Token, when set, is checked before and after every attempt
	Token *progress.Token
}

func (r FetchRequest) cancelled() bool {
	return r.Token != nil && r.Token.Cancelled()
}

// ImageFetcher downloads one image to disk and reports an HTTP-style status
type ImageFetcher interface {
	FetchOne(ctx context.Context, req FetchRequest) errors.Status
}

// FetcherOptions bounds the retry loop
type FetcherOptions struct {
	MaxAttempts  int
	MinValidSize int64
	RetryDelay   time.Duration
}

// Fetcher retrieves and validates single images with bounded retries
type Fetcher struct {
	transport transport.Requester
	notifier  notify.Notifier
	opts      FetcherOptions
	log       logger.Logger
}

// NewFetcher creates an image fetcher on top of the shared transport
func NewFetcher(t transport.Requester, n notify.Notifier, opts FetcherOptions, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if n == nil {
		n = notify.Noop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MinValidSize < 0 {
		opts.MinValidSize = 0
	}
	return &Fetcher{
		transport: t,
		notifier:  n,
		opts:      opts,
		log:       log.WithField("component", "fetcher"),
	}
}

// outcome kinds of a single attempt
var (
	errEmptyStream = stderrors.New("empty response stream")
	errZeroBytes   = stderrors.New("zero-byte image")
	errUndersized  = stderrors.New("undersized image")
)

// FetchOne downloads req.URL to req.Path.
//
// Non-2xx responses, empty streams, write errors, zero-byte and undersized
// files all count as failed attempts. Once attempts run out: a transport
// failure returns its status, an empty stream returns 404, a zero-byte file is
// deleted and returns 204, a write error returns 500, and an undersized file
// is kept and returns 200. Only the hard failures notify. A cancelled
// context or req.Token stops the loop with 408.
func (f *Fetcher) FetchOne(ctx context.Context, req FetchRequest) errors.Status {
	maxAttempts := f.opts.MaxAttempts

	var lastSize int64
	cfg := &retry.Config{
		MaxAttempts: maxAttempts,
		Backoff:     &retry.ConstantBackoff{Delay: f.opts.RetryDelay},
		Context:     ctx,
		RetryIf: func(err error) bool {
			return errors.TypeOf(err) != errors.ErrorTypeCancelled && !stderrors.Is(err, transport.ErrClosed)
		},
		OnRetry: func(attempt int, err error, _ time.Duration) {
			logger.LogFetchAttempt(f.log, req.URL, attempt, maxAttempts, err.Error())
		},
	}

	err := retry.DoAttempts(func(attempt int) error {
		if req.cancelled() {
			return errors.New(errors.ErrorTypeCancelled, int(errors.StatusCancelled), "job cancelled before GET %s", req.URL)
		}
		size, err := f.attempt(ctx, req)
		lastSize = size
		if stderrors.Is(err, errUndersized) && attempt == maxAttempts {
			f.log.WarnWithFields("Accepting undersized image on final attempt", map[string]interface{}{
				"url":  req.URL,
				"size": size,
			})
			f.notify(ctx, notify.TitleUndersizedImage,
				fmt.Sprintf("Image %d is suspiciously small (%d bytes)\nChapter: %s\nURL: %s",
					req.Index, size, chapterLabel(req.Chapter), req.URL), false)
			return nil
		}
		if err != nil && req.cancelled() {
			return errors.Wrap(err, errors.ErrorTypeCancelled, int(errors.StatusCancelled), "job cancelled")
		}
		return err
	}, cfg)

	if err == nil {
		f.log.DebugWithFields("Image downloaded", map[string]interface{}{
			"url":  req.URL,
			"path": req.Path,
			"size": lastSize,
		})
		return errors.StatusOK
	}

	switch {
	case errors.TypeOf(err) == errors.ErrorTypeCancelled:
		return errors.StatusCancelled
	case stderrors.Is(err, errZeroBytes):
		f.notifyFailure(ctx, req, "0-byte file")
		return errors.StatusNoContent
	case stderrors.Is(err, errEmptyStream):
		f.notifyFailure(ctx, req, "empty response")
		return errors.StatusNotFound
	}

	status := errors.StatusFor(err)
	f.notifyFailure(ctx, req, err.Error())
	return status
}

// attempt performs one request and validates what was written
func (f *Fetcher) attempt(ctx context.Context, req FetchRequest) (int64, error) {
	resp, err := f.transport.Request(ctx, ratelimit.RequestImage, req.URL, req.Referrer)
	if err != nil {
		return 0, err
	}
	if resp.Body == nil {
		return 0, errors.Wrap(errEmptyStream, errors.ErrorTypeValidation, 0, req.URL)
	}
	defer resp.Body.Close()

	if !resp.Success() {
		return 0, errors.New(errors.ErrorTypeTransport, resp.StatusCode, "GET %s returned %d", req.URL, resp.StatusCode)
	}

	size, err := writeFile(req.Path, resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeValidation, int(errors.StatusFailed), "write image")
	}

	switch {
	case size == 0:
		if err := os.Remove(req.Path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
			return 0, errors.Wrap(err, errors.ErrorTypeEnvironment, 0, "remove empty image")
		}
		return 0, errors.Wrap(errZeroBytes, errors.ErrorTypeValidation, 0, req.URL)
	case size < f.opts.MinValidSize:
		return size, errors.Wrap(errUndersized, errors.ErrorTypeValidation, 0, fmt.Sprintf("%s (%d bytes)", req.URL, size))
	}
	return size, nil
}

// writeFile copies r to path, truncating any earlier attempt
func writeFile(path string, r io.Reader) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(file, r)
	syncErr := file.Sync()
	closeErr := file.Close()
	if copyErr != nil {
		return n, copyErr
	}
	if syncErr != nil {
		return n, syncErr
	}
	return n, closeErr
}

func (f *Fetcher) notifyFailure(ctx context.Context, req FetchRequest, issue string) {
	f.log.ErrorWithFields("Image download failed", map[string]interface{}{
		"url":      req.URL,
		"chapter":  chapterLabel(req.Chapter),
		"attempts": f.opts.MaxAttempts,
		"issue":    issue,
	})
	f.notify(ctx, notify.TitleFetchFailed,
		fmt.Sprintf("Image %d failed to download after %d attempts\nChapter: %s\nIssue: %s\nURL: %s",
			req.Index, f.opts.MaxAttempts, chapterLabel(req.Chapter), issue, req.URL), false)
}

func (f *Fetcher) notify(ctx context.Context, title, body string, success bool) {
	if err := f.notifier.Notify(ctx, title, body, success); err != nil {
		f.log.WithError(err).Warn("Notification failed")
	}
}

func chapterLabel(ch manga.Chapter) string {
	if ch.Publication == nil {
		return ch.FileName()
	}
	return notify.ChapterMessage(ch.Publication.SortName, ch.FileName())
}
