package scraper

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
)

const maxRobotsBytes = 512 << 10

// RobotsChecker answers robots.txt questions per host, caching each host's
// rules for the TTL. A robots.txt that cannot be fetched allows everything.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	cache     *cache.Cache
}

func NewRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *RobotsChecker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		cache:     cache.New(ttl, ttl*2),
	}
}

func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, eris.Wrap(err, "robots: parse url")
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return false, eris.Errorf("robots: no host in %q", rawURL)
	}

	data := r.rules(ctx, u.Scheme, host)
	if data == nil {
		return true, nil
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, r.userAgent), nil
}

// CrawlDelay is the host's Crawl-delay for our agent, zero when unknown.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	v, ok := r.cache.Get(strings.ToLower(host))
	if !ok {
		return 0
	}
	data, _ := v.(*robotstxt.RobotsData)
	if data == nil {
		return 0
	}
	if g := data.FindGroup(r.userAgent); g != nil {
		return g.CrawlDelay
	}
	return 0
}

func (r *RobotsChecker) rules(ctx context.Context, scheme, host string) *robotstxt.RobotsData {
	if v, ok := r.cache.Get(host); ok {
		data, _ := v.(*robotstxt.RobotsData)
		return data
	}
	if scheme == "" {
		scheme = "https"
	}

	var data *robotstxt.RobotsData
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", http.NoBody)
	if err == nil {
		req.Header.Set("User-Agent", r.userAgent)
		if resp, err := r.client.Do(req); err == nil {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
			resp.Body.Close()
			if readErr == nil {
				data, _ = robotstxt.FromStatusAndBytes(resp.StatusCode, body)
			}
		}
	}

	// A nil entry is cached too so a dead robots.txt is not refetched per page.
	r.cache.SetDefault(host, data)
	return data
}
