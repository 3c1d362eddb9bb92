package lookup

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/config"
)

const (
	webBaseURL   = "https://rocketreach.co"
	navTimeoutMs = 60000
)

// Automation stages reported by AutomationError.
const (
	StageLaunch  = "launch"
	StageLogin   = "login"
	StageCaptcha = "captcha"
	StageSearch  = "search"
)

// AutomationError is a browser lookup that could not run. It is never a
// "no email found" result.
type AutomationError struct {
	Stage string
	Err   error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("browser lookup failed at %s: %v", e.Stage, e.Err)
}

func (e *AutomationError) Unwrap() error { return e.Err }

var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	captchaMarkers  = []string{"g-recaptcha", "recaptcha/api", "hcaptcha", "cf-challenge", "challenge-platform"}
	cloudflareTitle = "Just a moment"
)

var contactButtons = []string{
	`button:has-text("Get Contact Info")`,
	`button:has-text("Get Contact")`,
	`[data-testid="get-contact-button"]`,
	`.get-contact-button`,
}

// Automator drives a logged-in browser session against the provider's web
// app. It is the fallback when the API is unavailable.
type Automator struct {
	cfg    config.LookupConfig
	logger *zap.Logger

	mu       sync.Mutex
	pw       *playwright.Playwright
	context  playwright.BrowserContext
	page     playwright.Page
	loggedIn bool
}

func NewAutomator(cfg config.LookupConfig, logger *zap.Logger) *Automator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Automator{cfg: cfg, logger: logger}
}

// AutomateLookup searches the web app for keyword and reveals the first
// result's contact info. It returns the addresses shown, sorted.
func (a *Automator) AutomateLookup(ctx context.Context, keyword string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.ensureBrowser(); err != nil {
		return nil, &AutomationError{Stage: StageLaunch, Err: err}
	}
	if err := a.ensureLogin(ctx); err != nil {
		return nil, err
	}
	return a.search(ctx, keyword)
}

func (a *Automator) ensureBrowser() error {
	if a.page != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return eris.Wrap(err, "start playwright")
	}

	dataDir := a.cfg.BrowserDataDir
	if dataDir == "" {
		dataDir = "browser_data"
	}
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}
	bctx, err := pw.Chromium.LaunchPersistentContext(dataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(a.cfg.BrowserHeadless),
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

	a.pw, a.context, a.page = pw, bctx, page
	return nil
}

func (a *Automator) ensureLogin(ctx context.Context) error {
	if a.loggedIn {
		return nil
	}
	if a.cfg.BrowserEmail == "" || a.cfg.BrowserPassword == "" {
		return &AutomationError{Stage: StageLogin, Err: eris.New("no browser credentials configured")}
	}

	page := a.page
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if _, lastErr = page.Goto(webBaseURL+"/login", playwright.PageGotoOptions{
			Timeout:   playwright.Float(navTimeoutMs),
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); lastErr == nil {
			break
		}
		a.logger.Warn("login page navigation failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
		page.WaitForTimeout(2000)
	}
	if lastErr != nil {
		return &AutomationError{Stage: StageLogin, Err: lastErr}
	}
	a.waitForChallenge(ctx)

	// A persistent profile may already hold a session.
	if !strings.Contains(page.URL(), "/login") {
		a.loggedIn = true
		return nil
	}

	if err := page.Locator(`input[type="email"], input[name="email"]`).First().Fill(a.cfg.BrowserEmail); err != nil {
		return &AutomationError{Stage: StageLogin, Err: eris.Wrap(err, "fill email")}
	}
	if err := page.Locator(`input[type="password"]`).First().Fill(a.cfg.BrowserPassword); err != nil {
		return &AutomationError{Stage: StageLogin, Err: eris.Wrap(err, "fill password")}
	}
	if err := page.Locator(`button[type="submit"]`).First().Click(); err != nil {
		return &AutomationError{Stage: StageLogin, Err: eris.Wrap(err, "submit login form")}
	}

	for i := 0; i < 20; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page.WaitForTimeout(1000)
		if !strings.Contains(page.URL(), "/login") {
			a.loggedIn = true
			a.logger.Info("browser session logged in")
			return nil
		}
	}

	content, _ := page.Content()
	if hasCaptcha(content) {
		return &AutomationError{Stage: StageCaptcha, Err: eris.New("login blocked by captcha")}
	}
	return &AutomationError{Stage: StageLogin, Err: eris.New("still on login page after submit")}
}

// waitForChallenge gives an interstitial bot check time to clear.
func (a *Automator) waitForChallenge(ctx context.Context) {
	for i := 0; i < 15; i++ {
		title, _ := a.page.Title()
		if !strings.Contains(title, cloudflareTitle) || ctx.Err() != nil {
			return
		}
		a.page.WaitForTimeout(1000)
	}
	a.logger.Warn("bot check may still be active")
}

func (a *Automator) search(ctx context.Context, keyword string) ([]string, error) {
	page := a.page
	searchURL := webBaseURL + "/person?keyword=" + url.QueryEscape(keyword)
	if _, err := page.Goto(searchURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(navTimeoutMs),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return nil, &AutomationError{Stage: StageSearch, Err: err}
	}
	a.waitForChallenge(ctx)

	if strings.Contains(page.URL(), "/login") {
		a.loggedIn = false
		return nil, &AutomationError{Stage: StageLogin, Err: eris.New("session expired")}
	}

	clicked := false
	for _, sel := range contactButtons {
		btn := page.Locator(sel).First()
		if visible, _ := btn.IsVisible(); !visible {
			continue
		}
		if err := btn.Click(); err != nil {
			return nil, &AutomationError{Stage: StageSearch, Err: eris.Wrap(err, "click contact button")}
		}
		clicked = true
		break
	}
	page.WaitForTimeout(2000)

	content, err := page.Content()
	if err != nil {
		return nil, &AutomationError{Stage: StageSearch, Err: err}
	}
	emails := extractEmails(content)
	if len(emails) == 0 && hasCaptcha(content) {
		return nil, &AutomationError{Stage: StageCaptcha, Err: eris.New("search blocked by captcha")}
	}
	if !clicked {
		a.logger.Info("no contact button on results", zap.String("keyword", keyword))
		return nil, nil
	}
	return emails, nil
}

func (a *Automator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.page != nil {
		a.page.Close()
		a.page = nil
	}
	if a.context != nil {
		a.context.Close()
		a.context = nil
	}
	if a.pw != nil {
		a.pw.Stop()
		a.pw = nil
	}
	a.loggedIn = false
}

func hasCaptcha(html string) bool {
	lower := strings.ToLower(html)
	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// extractEmails returns the distinct addresses in html, lowercased and
// sorted. Image and asset names that look like addresses are skipped.
func extractEmails(html string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range emailPattern.FindAllString(html, -1) {
		addr := strings.ToLower(strings.Trim(m, "."))
		switch {
		case seen[addr],
			strings.HasSuffix(addr, ".png"),
			strings.HasSuffix(addr, ".jpg"),
			strings.HasSuffix(addr, ".svg"),
			strings.HasSuffix(addr, "@rocketreach.co"):
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}
