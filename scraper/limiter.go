package scraper

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// HostLimiter paces requests per directory host, independent of the random
// delay. Workers sharing a process share one limiter.
type HostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewHostLimiter allows perSecond requests per host. Zero or less disables pacing.
func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrap(err, "parse url")
	}
	return h.get(strings.ToLower(u.Host)).Wait(ctx)
}

func (h *HostLimiter) get(host string) *rate.Limiter {
	h.mu.RLock()
	l, ok := h.limiters[host]
	h.mu.RUnlock()
	if ok {
		return l
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.limiters[host]; ok {
		return l
	}
	l = rate.NewLimiter(h.limit, h.burst)
	h.limiters[host] = l
	return l
}
