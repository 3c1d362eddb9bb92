package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Endpoint groups provider calls that share a rate budget.
type Endpoint string

const (
	EndpointPersonSearch  Endpoint = "person_search"
	EndpointPersonLookup  Endpoint = "person_lookup"
	EndpointCompanySearch Endpoint = "company_search"
	EndpointCompanyLookup Endpoint = "company_lookup"
	EndpointAccount       Endpoint = "account"
)

// Limits caps calls to one endpoint. Zero means no cap for that window.
type Limits struct {
	PerSecond int
	PerMinute int
	PerHour   int
}

// DefaultLimits stays under the provider's published per-endpoint quotas.
// Detailed lookups spend credits and get the tightest budget.
func DefaultLimits() map[Endpoint]Limits {
	return map[Endpoint]Limits{
		EndpointPersonSearch:  {PerSecond: 2, PerMinute: 50, PerHour: 500},
		EndpointPersonLookup:  {PerSecond: 1, PerMinute: 15, PerHour: 250},
		EndpointCompanySearch: {PerSecond: 2, PerMinute: 50, PerHour: 500},
		EndpointCompanyLookup: {PerSecond: 1, PerMinute: 15, PerHour: 250},
		EndpointAccount:       {PerSecond: 1, PerMinute: 10, PerHour: 100},
	}
}

// Limiter keeps one token bucket per window per endpoint. A call waits until
// every window of its endpoint has room.
type Limiter struct {
	mu      sync.Mutex
	limits  map[Endpoint]Limits
	windows map[Endpoint][]*rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

func NewLimiter(limits map[Endpoint]Limits, logger *zap.Logger) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		limits:  limits,
		windows: make(map[Endpoint][]*rate.Limiter),
		logger:  logger,
		now:     time.Now,
	}
}

func (l *Limiter) windowsFor(ep Endpoint) []*rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ws, ok := l.windows[ep]; ok {
		return ws
	}
	lim := l.limits[ep]
	var ws []*rate.Limiter
	for _, w := range []struct {
		n   int
		per time.Duration
	}{
		{lim.PerSecond, time.Second},
		{lim.PerMinute, time.Minute},
		{lim.PerHour, time.Hour},
	} {
		if w.n <= 0 {
			continue
		}
		ws = append(ws, rate.NewLimiter(rate.Limit(float64(w.n)/w.per.Seconds()), w.n))
	}
	l.windows[ep] = ws
	return ws
}

// Wait blocks until a call to ep fits every window. It fails without
// consuming budget when the wait would outlive ctx.
func (l *Limiter) Wait(ctx context.Context, ep Endpoint) error {
	ws := l.windowsFor(ep)
	if len(ws) == 0 {
		return ctx.Err()
	}

	now := l.now()
	reservations := make([]*rate.Reservation, 0, len(ws))
	cancelAll := func() {
		for _, r := range reservations {
			r.CancelAt(now)
		}
	}

	var delay time.Duration
	for _, w := range ws {
		r := w.ReserveN(now, 1)
		if !r.OK() {
			cancelAll()
			return eris.Errorf("rate limiter for %s cannot admit a call", ep)
		}
		reservations = append(reservations, r)
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
	}
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && now.Add(delay).After(deadline) {
		cancelAll()
		return eris.Errorf("rate limit wait of %s for %s exceeds deadline", delay, ep)
	}

	l.logger.Debug("rate limit wait", zap.String("endpoint", string(ep)), zap.Duration("delay", delay))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		cancelAll()
		return ctx.Err()
	}
}
