package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"chaptervault/pkg/errors"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/ratelimit"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// ErrClosed is returned by requests made after Close
var ErrClosed = stderrors.New("transport is closed")

// Requester performs one GET and hands back the status and body stream.
// Implementations must be safe for concurrent use.
type Requester interface {
	Request(ctx context.Context, rt ratelimit.RequestType, url, referrer string) (*Response, error)
}

// Response is a raw transport result. The caller closes Body.
type Response struct {
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
}

// Success reports a 2xx status
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Options configures a Client
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	Limits     *ratelimit.Keyed
	HTTPClient *http.Client
}

// Client is the shared HTTP transport. It is built once, handed to every
// connector and to the image fetcher, and closed at shutdown.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limits     *ratelimit.Keyed
	logger     logger.Logger
	closed     atomic.Bool
}

// NewClient creates a transport client
func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		httpClient: httpClient,
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Accept":          "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
		},
		limits: opts.Limits,
		logger: log.WithField("component", "transport"),
	}
}

// Close releases idle connections. Later requests fail with ErrClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// Request sends a GET with an optional Referer. Network failures return an
// error; any HTTP response, successful or not, is returned as a Response.
func (c *Client) Request(ctx context.Context, rt ratelimit.RequestType, url, referrer string) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if c.limits != nil {
		if err := c.limits.Wait(ctx, rt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCancelled, int(errors.StatusCancelled), "rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, 0, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"url":          url,
		"request_type": string(rt),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, int(errors.StatusCancelled), "request cancelled")
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, 0, "network error")
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

// Fetch reads a whole response body, mapping non-2xx statuses to typed errors
func (c *Client) Fetch(ctx context.Context, rt ratelimit.RequestType, url string) ([]byte, error) {
	resp, err := c.Request(ctx, rt, url, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(url, resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, resp.StatusCode, "failed to read response body")
	}
	return body, nil
}

// checkResponseStatus maps an HTTP status to the pipeline error taxonomy
func (c *Client) checkResponseStatus(url string, status int) error {
	fields := map[string]interface{}{
		"status": status,
		"url":    url,
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		c.logger.WarnWithFields("resource not found", fields)
		return errors.New(errors.ErrorTypeNotFound, status, "resource not found")
	case status == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", fields)
		return errors.New(errors.ErrorTypeRateLimit, status, "rate limit exceeded")
	case status >= 500:
		c.logger.ErrorWithFields("server error", fields)
		return errors.New(errors.ErrorTypeTransport, status, "server error")
	default:
		c.logger.ErrorWithFields("unexpected HTTP status", fields)
		return errors.New(errors.ErrorTypeTransport, status, "unexpected status code: %d", status)
	}
}
