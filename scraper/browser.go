package scraper

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/config"
)

// ErrChallenge is the cause of a FetchError for pages still behind a bot
// wall after the browser tried to get through it.
var ErrChallenge = eris.New("blocked by bot challenge")

var challengeTriggers = []string{
	"Request unsuccessful. Incapsula",
	"Incapsula incident ID",
	"cf-challenge",
	"challenge-platform",
	"<title>Just a moment...</title>",
	"Access Denied",
	"This request was blocked",
}

var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#didomi-notice-agree-button",
	"button[id*='accept']",
	"button[class*='consent']",
	"button:has-text('Accept All')",
	"button:has-text('Accept')",
	"button:has-text('I Agree')",
	"button:has-text('Agree')",
}

var challengeSelectors = []string{
	"iframe#main-iframe",
	"[id*='checkbox']",
	"input[type='checkbox']",
	"button:has-text('Verify')",
	"button:has-text('Continue')",
}

var frameSelectors = []string{
	"[id*='checkbox']",
	"input[type='checkbox']",
	"span[role='checkbox']",
	"div[role='button']",
	"button",
}

// detectChallenge returns the marker that identifies content as a bot
// wall, or "" for a normal page.
func detectChallenge(content string) string {
	for _, t := range challengeTriggers {
		if strings.Contains(content, t) {
			return t
		}
	}
	return ""
}

// BrowserFetcher loads pages in a persistent Chromium profile so cookies
// earned by passing a challenge survive between requests. Pages are
// fetched one at a time.
type BrowserFetcher struct {
	cfg    config.FetchConfig
	logger *zap.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
}

var _ PageFetcher = (*BrowserFetcher)(nil)

func NewBrowserFetcher(cfg config.FetchConfig, logger *zap.Logger) *BrowserFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserFetcher{cfg: cfg, logger: logger}
}

func (b *BrowserFetcher) FetchWith(ctx context.Context, rawURL string, opts FetchOptions) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if err := b.ensureBrowser(); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	timeout := b.cfg.Timeout
	if opts.Timeout > 0 && (timeout <= 0 || opts.Timeout < timeout) {
		timeout = opts.Timeout
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	resp, err := b.page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: eris.Wrap(err, "navigate")}
	}
	status := http.StatusOK
	if resp != nil {
		status = resp.Status()
	}

	b.acceptConsent()

	content, err := b.page.Content()
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: status, Err: eris.Wrap(err, "read content")}
	}
	if trigger := detectChallenge(content); trigger != "" {
		b.logger.Info("bot challenge", zap.String("url", rawURL), zap.String("trigger", trigger))
		b.passChallenge()
		if content, err = b.page.Content(); err != nil {
			return nil, &FetchError{URL: rawURL, StatusCode: status, Err: eris.Wrap(err, "read content")}
		}
		if detectChallenge(content) != "" {
			return nil, &FetchError{URL: rawURL, StatusCode: http.StatusForbidden, Err: ErrChallenge}
		}
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: status, Err: eris.Errorf("unexpected status %d", status)}
	}

	b.logger.Debug("fetched via browser", zap.String("url", rawURL), zap.Int("bytes", len(content)))
	return &Page{URL: rawURL, StatusCode: status, Body: []byte(content), FetchedAt: time.Now().UTC()}, nil
}

func (b *BrowserFetcher) ensureBrowser() error {
	if b.page != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return eris.Wrap(err, "start playwright")
	}

	dataDir := b.cfg.BrowserDataDir
	if dataDir == "" {
		dataDir = "browser_data"
	}
	// The lookup automator keeps its own profile; Chromium locks a
	// profile directory to one process.
	dataDir = filepath.Join(dataDir, "crawl")
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}
	bctx, err := pw.Chromium.LaunchPersistentContext(dataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(b.cfg.BrowserHeadless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return eris.Wrap(err, "launch browser")
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		pw.Stop()
		return eris.Wrap(err, "open page")
	}

	b.pw, b.context, b.page = pw, bctx, page
	return nil
}

func (b *BrowserFetcher) acceptConsent() {
	for _, sel := range consentSelectors {
		btn := b.page.Locator(sel).First()
		if visible, _ := btn.IsVisible(); visible {
			b.logger.Debug("accepting consent", zap.String("selector", sel))
			btn.Click()
			b.page.WaitForTimeout(1500)
			return
		}
	}
}

// passChallenge clicks whatever looks like the challenge's checkbox, first
// on the page and then inside its frames, and gives the wall time to lift.
func (b *BrowserFetcher) passChallenge() {
	b.page.WaitForTimeout(2000)

	for _, sel := range challengeSelectors {
		el := b.page.Locator(sel).First()
		if visible, _ := el.IsVisible(); visible {
			el.Click()
			b.page.WaitForTimeout(3000)
			break
		}
	}
	if b.cleared() {
		return
	}

	main := b.page.MainFrame()
	for _, frame := range b.page.Frames() {
		if frame == main {
			continue
		}
		for _, sel := range frameSelectors {
			el := frame.Locator(sel).First()
			if visible, _ := el.IsVisible(); !visible {
				continue
			}
			el.Click()
			b.page.WaitForTimeout(3000)
			if b.cleared() {
				b.logger.Info("bot challenge passed")
				return
			}
		}
	}

	// Some walls redirect on their own once the script has run.
	for i := 0; i < 10 && !b.cleared(); i++ {
		b.page.WaitForTimeout(1000)
	}
}

func (b *BrowserFetcher) cleared() bool {
	content, err := b.page.Content()
	return err == nil && detectChallenge(content) == ""
}

func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.page != nil {
		b.page.Close()
		b.page = nil
	}
	if b.context != nil {
		b.context.Close()
		b.context = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
}

// FallbackFetcher sends every request through primary and repeats it
// through fallback only when primary was turned away by a bot wall.
type FallbackFetcher struct {
	primary  PageFetcher
	fallback PageFetcher
	logger   *zap.Logger
}

var _ PageFetcher = (*FallbackFetcher)(nil)

func NewFallbackFetcher(primary, fallback PageFetcher, logger *zap.Logger) *FallbackFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackFetcher{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackFetcher) FetchWith(ctx context.Context, rawURL string, opts FetchOptions) (*Page, error) {
	page, err := f.primary.FetchWith(ctx, rawURL, opts)
	switch {
	case err == nil && detectChallenge(string(page.Body)) == "":
		return page, nil
	case err != nil && !blocked(err):
		return nil, err
	}

	f.logger.Info("retrying in browser", zap.String("url", rawURL), zap.Error(err))
	return f.fallback.FetchWith(ctx, rawURL, opts)
}

// blocked reports whether err looks like a bot wall rather than a missing
// page or an outage. Robots.txt refusals are never retried.
func blocked(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) || errors.Is(fe.Err, ErrDisallowed) {
		return false
	}
	return fe.StatusCode == http.StatusForbidden || fe.StatusCode == http.StatusServiceUnavailable
}
