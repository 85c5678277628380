// Package transport is the single HTTP client shared by connectors and the
// image fetcher.
//
// Request returns the raw status and body so callers decide what counts as a
// failure; Fetch reads the body and maps non-2xx statuses onto the
// chaptervault error taxonomy. Requests are throttled per
// ratelimit.RequestType when a Keyed limiter is configured.
//
//	client := transport.NewClient(transport.Options{Timeout: 30 * time.Second}, log)
//	defer client.Close()
//	resp, err := client.Request(ctx, ratelimit.RequestImage, url, referrer)
package transport
