// Package notify delivers job notifications.
//
// Every message is logged. When an ntfy endpoint is configured the message
// is also posted as JSON, authenticated with the stored account:
//
//	n, err := notify.NewFromConfig(cfg.Notifications, credentials, log)
//	_ = n.Notify(ctx, notify.TitleChapterDownloaded, notify.ChapterMessage("Alpha", "Vol.0 Ch.12"), true)
package notify
