package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"chaptervault/pkg/logger"
)

// Notifier delivers a short human-readable message about a finished job
type Notifier interface {
	Notify(ctx context.Context, title, body string, success bool) error
}

// Titles used by the download pipeline
const (
	TitleChapterDownloaded = "Chapter downloaded"
	TitleFetchFailed       = "Image download failed"
	TitleUndersizedImage   = "Undersized image accepted"
)

// LogNotifier writes notifications to the log. It is the fallback when no
// push endpoint is configured.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LogNotifier{log: log.WithField("component", "notify")}
}

// Notify logs the message at info level for success and warn level otherwise
func (l *LogNotifier) Notify(_ context.Context, title, body string, success bool) error {
	fields := map[string]interface{}{
		"title":   title,
		"message": body,
	}
	if success {
		l.log.InfoWithFields("Notification", fields)
	} else {
		l.log.WarnWithFields("Notification", fields)
	}
	return nil
}

// Multi fans a notification out to every notifier and joins their errors
type Multi []Notifier

// Notify sends to all notifiers even when one of them fails
func (m Multi) Notify(ctx context.Context, title, body string, success bool) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Notify(ctx, title, body, success))
	}
	return err
}

// Filtered drops success or failure notifications according to the flags
type Filtered struct {
	Next      Notifier
	OnSuccess bool
	OnFailure bool
}

// Notify forwards the message when its kind is enabled
func (f Filtered) Notify(ctx context.Context, title, body string, success bool) error {
	if success && !f.OnSuccess || !success && !f.OnFailure {
		return nil
	}
	return f.Next.Notify(ctx, title, body, success)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, bool) error { return nil }

// Noop returns a notifier that discards everything
func Noop() Notifier {
	return noopNotifier{}
}

// ChapterMessage is the body used for chapter notifications
func ChapterMessage(publication, chapter string) string {
	return fmt.Sprintf("%s - %s", publication, chapter)
}
