package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chaptervault/pkg/auth"
	"chaptervault/pkg/config"
	"chaptervault/pkg/logger"
	"chaptervault/pkg/ratelimit"
)

const (
	userAgent = "chaptervault-notify/1.0"

	// DefaultTopic is used when neither the config nor the endpoint URL names one
	DefaultTopic = "chaptervault"

	ntfyPriority = 3
)

// ntfyMessage is the JSON body ntfy accepts on its root endpoint
type ntfyMessage struct {
	Topic    string `json:"topic"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// NtfyNotifier publishes notifications to an ntfy server
type NtfyNotifier struct {
	endpoint string
	topic    string
	auth     string
	client   *http.Client
	limiter  ratelimit.Limiter
}

// NtfyOptions configures an NtfyNotifier
type NtfyOptions struct {
	Endpoint string
	Topic    string
	Account  *auth.Account
	Timeout  time.Duration
	// Limiter throttles bursts, e.g. a scan that finishes many chapters at once
	Limiter ratelimit.Limiter
}

// NewNtfy creates an ntfy notifier. The topic falls back to the first path
// segment of the endpoint URL.
func NewNtfy(opts NtfyOptions) (*NtfyNotifier, error) {
	endpoint, topic, err := SplitEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	if t := strings.TrimSpace(opts.Topic); t != "" {
		topic = t
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	n := &NtfyNotifier{
		endpoint: endpoint,
		topic:    topic,
		client:   &http.Client{Timeout: timeout},
		limiter:  opts.Limiter,
	}
	if opts.Account != nil {
		n.auth = opts.Account.BasicAuthHeader()
	}
	return n, nil
}

// SplitEndpoint separates "https://host/topic" into the server root and the topic
func SplitEndpoint(raw string) (endpoint, topic string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid ntfy endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", "", fmt.Errorf("invalid ntfy endpoint %q: expected http(s)://host[/topic]", raw)
	}

	topic = DefaultTopic
	if first, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/"); first != "" {
		topic = first
	}
	return u.Scheme + "://" + u.Host, topic, nil
}

// Topic returns the topic messages are published to
func (n *NtfyNotifier) Topic() string {
	return n.topic
}

// Notify posts the message. success is not transmitted; ntfy has no notion of it.
func (n *NtfyNotifier) Notify(ctx context.Context, title, body string, success bool) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ntfy throttle: %w", err)
		}
	}

	payload, err := json.Marshal(ntfyMessage{
		Topic:    n.topic,
		Title:    title,
		Message:  body,
		Priority: ntfyPriority,
	})
	if err != nil {
		return fmt.Errorf("marshal ntfy message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if n.auth != "" {
		req.Header.Set("Authorization", n.auth)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(preview)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// AccountSource looks up the stored ntfy credentials
type AccountSource interface {
	RetrieveDefault(name string) (*auth.Account, error)
}

// NewFromConfig builds the notifier chain for the daemon. Notifications are
// always logged; ntfy is added when enabled and an endpoint is configured.
// Missing credentials are not fatal, the server may accept anonymous posts.
func NewFromConfig(cfg config.NotificationConfig, accounts AccountSource, log logger.Logger) (Notifier, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	chain := Multi{NewLogNotifier(log)}

	if !cfg.Enabled || strings.TrimSpace(cfg.NtfyEndpoint) == "" {
		return chain, nil
	}

	var account *auth.Account
	if accounts != nil {
		acc, err := accounts.RetrieveDefault(cfg.NtfyAccount)
		switch {
		case err == nil:
			account = acc
		case errors.Is(err, auth.ErrCredentialsNotFound):
			log.WarnWithFields("No ntfy credentials stored, posting anonymously", map[string]interface{}{
				"account": cfg.NtfyAccount,
			})
		default:
			return nil, fmt.Errorf("load ntfy credentials: %w", err)
		}
	}

	ntfy, err := NewNtfy(NtfyOptions{
		Endpoint: cfg.NtfyEndpoint,
		Topic:    cfg.NtfyTopic,
		Account:  account,
		Timeout:  cfg.RequestTimeout,
		Limiter:  ratelimit.NewTokenBucket(10, 6*time.Second),
	})
	if err != nil {
		return nil, err
	}

	chain = append(chain, Filtered{Next: ntfy, OnSuccess: cfg.OnSuccess, OnFailure: cfg.OnFailure})
	return chain, nil
}
