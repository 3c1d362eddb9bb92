package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"lawcrawl/config"
)

const maxRedirects = 5

type Clients struct {
	Scraping *http.Client // proxied when configured, for directory sites
	API      *http.Client // direct, for the lookup provider
}

func NewClients(fetchCfg config.FetchConfig) (*Clients, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if fetchCfg.ProxyURL != "" {
		proxyURL, err := url.Parse(fetchCfg.ProxyURL)
		if err != nil {
			return nil, eris.Wrap(err, "parse proxy url")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := fetchCfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	scraping := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 60 * time.Second},
	}, nil
}
