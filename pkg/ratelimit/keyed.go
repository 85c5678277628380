package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RequestType groups outgoing requests that share a budget
type RequestType string

const (
	RequestDefault  RequestType = "default"
	RequestImage    RequestType = "image"
	RequestCover    RequestType = "cover"
	RequestMetadata RequestType = "metadata"
)

// Keyed holds one sliding window per request type. Types without an explicit
// budget share the RequestDefault window.
type Keyed struct {
	mu       sync.Mutex
	limiters map[RequestType]Limiter
	perMin   map[RequestType]int
	fallback int
}

// NewKeyed builds per-minute limiters. defaultPerMinute applies to every type
// missing from perMinute.
func NewKeyed(defaultPerMinute int, perMinute map[RequestType]int) *Keyed {
	budgets := make(map[RequestType]int, len(perMinute))
	for k, v := range perMinute {
		budgets[k] = v
	}
	return &Keyed{
		limiters: make(map[RequestType]Limiter),
		perMin:   budgets,
		fallback: defaultPerMinute,
	}
}

func (k *Keyed) limiter(rt RequestType) Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.perMin[rt]; !ok {
		rt = RequestDefault
	}
	if l, ok := k.limiters[rt]; ok {
		return l
	}

	budget, ok := k.perMin[rt]
	if !ok {
		budget = k.fallback
	}
	l := NewSlidingWindow(budget, time.Minute)
	k.limiters[rt] = l
	return l
}

// Allow reports whether a request of the given type may go out now
func (k *Keyed) Allow(rt RequestType) bool {
	return k.limiter(rt).Allow()
}

// Wait blocks until a request of the given type may go out
func (k *Keyed) Wait(ctx context.Context, rt RequestType) error {
	return k.limiter(rt).Wait(ctx)
}

// Reset clears every window
func (k *Keyed) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, l := range k.limiters {
		l.Reset()
	}
}
