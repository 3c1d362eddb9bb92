package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/config"
)

const maxResponseBytes = 4 << 20

// Client talks to the RocketReach v2 REST API. Every call goes through the
// per-endpoint limiter; identical calls within the cache TTL are served
// from memory so retries do not spend credits twice.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *Limiter
	cache   *cache.Cache
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.LookupConfig, httpClient *http.Client, limiter *Limiter, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewLimiter(nil, logger)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		limiter: limiter,
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// PersonQuery is the input to a person search. Empty fields are omitted.
type PersonQuery struct {
	Name     string
	Company  string
	Domain   string
	Title    string
	Location string
}

// ProfileEmail is one address on a profile. Teaser profiles carry only
// the domain part, so Email may lack an @.
type ProfileEmail struct {
	Email     string `json:"email"`
	Type      string `json:"type"`
	Grade     string `json:"grade"`
	SMTPValid string `json:"smtp_valid"`
}

type ProfilePhone struct {
	Number string `json:"number"`
	Type   string `json:"type"`
}

type Teaser struct {
	Emails             []string `json:"emails"`
	ProfessionalEmails []string `json:"professional_emails"`
	PersonalEmails     []string `json:"personal_emails"`
}

type Profile struct {
	ID               json.Number    `json:"id"`
	Status           string         `json:"status"`
	Name             string         `json:"name"`
	CurrentTitle     string         `json:"current_title"`
	CurrentEmployer  string         `json:"current_employer"`
	Location         string         `json:"location"`
	LinkedInURL      string         `json:"linkedin_url"`
	TwitterURL       string         `json:"twitter_url"`
	FacebookURL      string         `json:"facebook_url"`
	RecommendedEmail string         `json:"recommended_email"`
	Emails           []ProfileEmail `json:"emails"`
	Phones           []ProfilePhone `json:"phones"`
	Teaser           *Teaser        `json:"teaser"`
	ConfidenceScore  float64        `json:"confidence_score"`

	Raw json.RawMessage `json:"-"`
	// Cached is set when the profile came from the response cache and no
	// credit was spent on it.
	Cached bool `json:"-"`
}

// HasFullEmails reports whether the profile already carries complete
// addresses, i.e. a detailed lookup would add nothing.
func (p *Profile) HasFullEmails() bool {
	if strings.Contains(p.RecommendedEmail, "@") {
		return true
	}
	for _, e := range p.Emails {
		if strings.Contains(e.Email, "@") {
			return true
		}
	}
	return false
}

func (p *Profile) Phone() string {
	if len(p.Phones) > 0 {
		return p.Phones[0].Number
	}
	return ""
}

type noCacheKey struct{}

// WithoutCache makes every client call under ctx go to the provider. The
// fresh responses still refill the cache.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, noCacheKey{}, true)
}

func cacheDisabled(ctx context.Context) bool {
	off, _ := ctx.Value(noCacheKey{}).(bool)
	return off
}

type SearchResult struct {
	Profiles []Profile
	Raw      json.RawMessage
}

type Company struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	Domain      string      `json:"domain"`
	EmailDomain string      `json:"email_domain"`
	Website     string      `json:"website_domain"`
	Phone       string      `json:"phone"`
	LinkedInURL string      `json:"linkedin_url"`
	City        string      `json:"city"`
	Region      string      `json:"region"`
}

type CompanySearchResult struct {
	Companies []Company
	Raw       json.RawMessage
}

type Account struct {
	ID               int64  `json:"id"`
	Email            string `json:"email"`
	Plan             string `json:"plan"`
	CreditsRemaining int    `json:"credits_remaining"`
	RateLimited      bool   `json:"rate_limited"`
}

// SearchPerson runs the universal people search. Accounts without universal
// credits get a 403 naming them; those fall back to the legacy search.
func (c *Client) SearchPerson(ctx context.Context, q PersonQuery) (*SearchResult, error) {
	query := map[string][]string{}
	if q.Name != "" {
		query["name"] = []string{q.Name}
	}
	if q.Company != "" {
		query["current_employer"] = []string{q.Company}
	}
	if q.Title != "" {
		query["current_title"] = []string{q.Title}
	}
	if q.Location != "" {
		query["location"] = []string{q.Location}
	}

	raw, _, err := c.do(ctx, EndpointPersonSearch, http.MethodPost, "/api/universal/person/search", map[string]any{"query": query})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.needsLegacySearch() {
		c.logger.Warn("universal credits required, falling back to legacy person search")
		return c.searchPersonLegacy(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return decodeSearch(raw)
}

func (c *Client) searchPersonLegacy(ctx context.Context, q PersonQuery) (*SearchResult, error) {
	payload := map[string]string{}
	for k, v := range map[string]string{
		"name":     q.Name,
		"company":  q.Company,
		"domain":   q.Domain,
		"title":    q.Title,
		"location": q.Location,
	} {
		if v != "" {
			payload[k] = v
		}
	}
	raw, _, err := c.do(ctx, EndpointPersonSearch, http.MethodPost, "/person/search", payload)
	if err != nil {
		return nil, err
	}
	return decodeSearch(raw)
}

func decodeSearch(raw []byte) (*SearchResult, error) {
	var body struct {
		Profiles []json.RawMessage `json:"profiles"`
		Results  []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, eris.Wrap(err, "decode person search")
	}
	items := body.Profiles
	if len(items) == 0 {
		items = body.Results
	}
	out := &SearchResult{Raw: raw}
	for _, item := range items {
		var p Profile
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, eris.Wrap(err, "decode profile")
		}
		p.Raw = item
		out.Profiles = append(out.Profiles, p)
	}
	return out, nil
}

// LookupPerson fetches the full profile, including complete email
// addresses. This is the call that spends credits.
func (c *Client) LookupPerson(ctx context.Context, id string) (*Profile, error) {
	raw, hit, err := c.do(ctx, EndpointPersonLookup, http.MethodGet, "/person/lookup/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, eris.Wrapf(err, "decode profile %s", id)
	}
	p.Raw = raw
	p.Cached = hit
	return &p, nil
}

func (c *Client) SearchCompany(ctx context.Context, name, domain string) (*CompanySearchResult, error) {
	payload := map[string]string{"company": name}
	if domain != "" {
		payload["domain"] = domain
	}
	raw, _, err := c.do(ctx, EndpointCompanySearch, http.MethodPost, "/company/search", payload)
	if err != nil {
		return nil, err
	}
	var body struct {
		Companies []Company `json:"companies"`
		Results   []Company `json:"results"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, eris.Wrap(err, "decode company search")
	}
	out := &CompanySearchResult{Companies: body.Companies, Raw: raw}
	if len(out.Companies) == 0 {
		out.Companies = body.Results
	}
	return out, nil
}

func (c *Client) LookupCompany(ctx context.Context, id string) (*Company, error) {
	raw, _, err := c.do(ctx, EndpointCompanyLookup, http.MethodGet, "/company/lookup/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var co Company
	if err := json.Unmarshal(raw, &co); err != nil {
		return nil, eris.Wrapf(err, "decode company %s", id)
	}
	return &co, nil
}

// Account reports the key's plan and remaining credits. It is never cached.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	raw, err := c.send(ctx, EndpointAccount, http.MethodGet, "/account", nil)
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, eris.Wrap(err, "decode account")
	}
	return &a, nil
}

// do is send behind the response cache. hit reports a cached answer.
func (c *Client) do(ctx context.Context, ep Endpoint, method, path string, body any) (raw []byte, hit bool, err error) {
	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, false, eris.Wrapf(err, "encode %s request", ep)
		}
	}

	key := method + " " + path + " " + string(payload)
	if !cacheDisabled(ctx) {
		if cached, ok := c.cache.Get(key); ok {
			c.logger.Debug("rocketreach cache hit", zap.String("endpoint", string(ep)))
			return cached.([]byte), true, nil
		}
	}

	raw, err = c.send(ctx, ep, method, path, payload)
	if err != nil {
		return nil, false, err
	}
	c.cache.SetDefault(key, raw)
	return raw, false, nil
}

// send makes the call, honoring one Retry-After on 429. A second 429 comes
// back as *RateLimitError.
func (c *Client) send(ctx context.Context, ep Endpoint, method, path string, payload []byte) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx, ep); err != nil {
			return nil, eris.Wrapf(err, "wait for %s budget", ep)
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, eris.Wrapf(err, "build %s request", ep)
		}
		req.Header.Set("Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "rocketreach %s", ep)
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			if attempt > 1 {
				return nil, &RateLimitError{Endpoint: ep, RetryAfter: wait}
			}
			c.logger.Warn("rocketreach rate limited, waiting",
				zap.String("endpoint", string(ep)),
				zap.Duration("retry_after", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		if readErr != nil {
			return nil, eris.Wrapf(readErr, "read %s response", ep)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Endpoint: ep, StatusCode: resp.StatusCode, Body: string(raw)}
		}
		return raw, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
