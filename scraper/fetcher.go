package scraper

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/config"
)

const maxBodyBytes = 8 << 20

// ErrDisallowed is the cause of a FetchError for URLs robots.txt forbids.
var ErrDisallowed = eris.New("disallowed by robots.txt")

// DefaultUserAgents is the pool a request identity is drawn from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// FetchError is returned for network failures and non-2xx responses.
// StatusCode is zero when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether trying again later could succeed.
func (e *FetchError) Transient() bool {
	if errors.Is(e.Err, ErrDisallowed) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// FetchOptions tightens the process-wide settings for one job.
type FetchOptions struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Timeout  time.Duration
}

// PageFetcher is what the orchestrator needs from the request layer.
type PageFetcher interface {
	FetchWith(ctx context.Context, rawURL string, opts FetchOptions) (*Page, error)
}

type Fetcher struct {
	client     *http.Client
	cfg        config.FetchConfig
	userAgents []string
	hosts      *HostLimiter
	robots     *RobotsChecker
	logger     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

var _ PageFetcher = (*Fetcher)(nil)

func NewFetcher(cfg config.FetchConfig, client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	uas := cfg.UserAgents
	if len(uas) == 0 {
		uas = DefaultUserAgents
	}

	f := &Fetcher{
		client:     client,
		cfg:        cfg,
		userAgents: uas,
		hosts:      NewHostLimiter(cfg.HostRate, 1),
		logger:     logger,
		sleep:      sleepCtx,
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(client, "lawcrawl", 0)
	}
	return f
}

// Fetch gets rawURL with the process-wide settings.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	return f.FetchWith(ctx, rawURL, FetchOptions{})
}

// FetchWith sleeps a random delay, waits for the host's rate slot and issues
// a GET with a randomized browser identity.
func (f *Fetcher) FetchWith(ctx context.Context, rawURL string, opts FetchOptions) (*Page, error) {
	if f.robots != nil {
		allowed, err := f.robots.IsAllowed(ctx, rawURL)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		if !allowed {
			return nil, &FetchError{URL: rawURL, Err: ErrDisallowed}
		}
	}

	if err := f.sleep(ctx, f.delay(opts)); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if err := f.hosts.Wait(ctx, rawURL); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	timeout := f.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	ua := f.userAgents[rand.IntN(len(f.userAgents))]
	setBrowserHeaders(req, ua)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: eris.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}

	f.logger.Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Page{URL: rawURL, StatusCode: resp.StatusCode, Body: body, FetchedAt: time.Now().UTC()}, nil
}

func (f *Fetcher) delay(opts FetchOptions) time.Duration {
	lo, hi := f.cfg.MinDelay, f.cfg.MaxDelay
	if opts.MinDelay > lo {
		lo = opts.MinDelay
	}
	if opts.MaxDelay > hi {
		hi = opts.MaxDelay
	}
	if hi < lo {
		hi = lo
	}
	if hi == lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func setBrowserHeaders(req *http.Request, ua string) {
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("DNT", "1")
	req.Header.Set("Sec-CH-UA", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	req.Header.Set("Sec-CH-UA-Mobile", "?0")
	req.Header.Set("Sec-CH-UA-Platform", `"Windows"`)
}

func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "open gzip body")
		}
		defer gz.Close()
		r = gz
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
