package scraper

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawcrawl/config"
	"lawcrawl/models"
)

func newTestFetcher(cfg config.FetchConfig) (*Fetcher, *[]time.Duration) {
	var slept []time.Duration
	f := NewFetcher(cfg, nil, nil)
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return f, &slept
}

func TestFetch_BrowserHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(config.FetchConfig{Timeout: 5 * time.Second})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<html>ok</html>", string(page.Body))

	assert.True(t, slices.Contains(DefaultUserAgents, got.Get("User-Agent")))
	for _, h := range []string{"Accept", "Accept-Language", "Sec-Fetch-Dest", "Sec-Fetch-Mode", "Sec-CH-UA", "Upgrade-Insecure-Requests"} {
		assert.NotEmpty(t, got.Get(h), h)
	}
}

func TestFetch_GzipBody(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("<html>compressed</html>"))
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f, _ := newTestFetcher(config.FetchConfig{Timeout: 5 * time.Second})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>compressed</html>", string(page.Body))
}

func TestFetch_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f, _ := newTestFetcher(config.FetchConfig{Timeout: 5 * time.Second})
			_, err := f.Fetch(context.Background(), srv.URL)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.transient, fe.Transient())
		})
	}
}

func TestFetch_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	f, _ := newTestFetcher(config.FetchConfig{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), url)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
	assert.True(t, fe.Transient())
}

func TestFetch_DelayRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	f, slept := newTestFetcher(config.FetchConfig{MinDelay: time.Second, MaxDelay: 3 * time.Second, Timeout: time.Second})
	for i := 0; i < 20; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	for _, d := range *slept {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 3*time.Second)
	}

	*slept = nil
	_, err := f.FetchWith(context.Background(), srv.URL, FetchOptions{MinDelay: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, *slept, "a job delay above the range is a floor")
}

func TestFetch_RobotsDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(config.FetchConfig{Timeout: time.Second, RespectRobots: true})

	_, err := f.Fetch(context.Background(), srv.URL+"/private/page")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.True(t, errors.Is(err, ErrDisallowed))
	assert.False(t, fe.Transient())

	_, err = f.Fetch(context.Background(), srv.URL+"/public/page")
	assert.NoError(t, err)
}

func TestUnitFromURL(t *testing.T) {
	u := UnitFromURL(3, "", "https://www.lawinfo.com/personal-injury/texas/austin/")
	assert.Equal(t, "lawinfo", u.Site)
	assert.Equal(t, "personal-injury", u.PracticeArea)
	assert.Equal(t, "texas", u.State)
	assert.Equal(t, "austin", u.City)
	assert.Equal(t, models.UnitPending, u.Status)

	short := UnitFromURL(3, "superlawyers", "https://attorneys.superlawyers.com/texas/")
	assert.Equal(t, "superlawyers", short.Site)
	assert.Equal(t, "texas", short.PracticeArea)
	assert.Empty(t, short.City)

	avvo := UnitFromURL(1, "", "https://www.avvo.com/attorneys/tx/austin/personal-injury")
	assert.Equal(t, "avvo", avvo.Site)
	assert.Equal(t, "personal-injury", avvo.PracticeArea)
	assert.Equal(t, "tx", avvo.State)
	assert.Equal(t, "austin", avvo.City)

	other := UnitFromURL(1, "avvo", "https://www.avvo.com/search/lawyer_search?q=dui")
	assert.Empty(t, other.PracticeArea, "a path off the pattern carries no location")
	assert.Empty(t, other.State)
}

func TestSites_ConfiguredPattern(t *testing.T) {
	sites := NewSites(map[string]*config.SiteConfig{
		"justia": {ID: "justia", BaseURL: "https://www.justia.com/lawyers", URLPattern: "{base_url}/{practice_area}/{state}/{city}"},
		"avvo":   {ID: "avvo"},
	})

	u := sites.UnitFromURL(1, "", "https://www.justia.com/lawyers/criminal-law/texas/houston")
	assert.Equal(t, "justia", u.Site)
	assert.Equal(t, "criminal-law", u.PracticeArea)
	assert.Equal(t, "texas", u.State)
	assert.Equal(t, "houston", u.City)

	assert.Equal(t, "https://www.avvo.com/attorneys/tx/austin/dui", sites.StartURL("avvo", "dui", "tx", "austin"),
		"a config without a pattern keeps the built-in one")
	assert.Equal(t, "https://example.org/dui/ohio/akron/", NewSites(map[string]*config.SiteConfig{
		"example": {ID: "example", BaseURL: "https://example.org/"},
	}).StartURL("example", "dui", "ohio", "akron"))
}

func TestUnitsForJob_Matrix(t *testing.T) {
	job := &models.Job{ID: 4, Spec: models.JobSpec{
		Site:          "avvo",
		StartURLs:     []string{"https://www.avvo.com/attorneys/tx/austin/dui"},
		PracticeAreas: []string{"dui", "personal-injury"},
		States: map[string][]string{
			"tx": {"austin", "dallas"},
			"oh": {"akron"},
		},
	}}

	units := UnitsForJob(job)
	require.Len(t, units, 6, "the listed start URL is not generated twice")

	var urls []string
	for _, u := range units {
		urls = append(urls, u.URL)
		assert.Equal(t, int64(4), u.JobID)
		assert.Equal(t, "avvo", u.Site)
		assert.Equal(t, models.UnitPending, u.Status)
	}
	assert.Equal(t, []string{
		"https://www.avvo.com/attorneys/tx/austin/dui",
		"https://www.avvo.com/attorneys/oh/akron/dui",
		"https://www.avvo.com/attorneys/oh/akron/personal-injury",
		"https://www.avvo.com/attorneys/tx/austin/personal-injury",
		"https://www.avvo.com/attorneys/tx/dallas/dui",
		"https://www.avvo.com/attorneys/tx/dallas/personal-injury",
	}, urls)

	last := units[5]
	assert.Equal(t, "personal-injury", last.PracticeArea)
	assert.Equal(t, "tx", last.State)
	assert.Equal(t, "dallas", last.City)
}

func TestUnitsForJob_SkipsDuplicates(t *testing.T) {
	job := &models.Job{ID: 2, Spec: models.JobSpec{StartURLs: []string{
		"https://www.lawinfo.com/dui/ohio/akron/",
		"https://www.lawinfo.com/dui/ohio/akron/",
		" ",
	}}}
	assert.Len(t, UnitsForJob(job), 1)
}

func TestSyntheticLawyers(t *testing.T) {
	unit := &models.DiscoveryUnit{ID: 5, JobID: 1, URL: "https://www.lawinfo.com/dui/ohio/akron/", Site: "lawinfo", PracticeArea: "dui", State: "ohio", City: "akron"}

	for seed := uint64(0); seed < 20; seed++ {
		rows := SyntheticLawyers(unit, rand.New(rand.NewPCG(seed, seed)))
		require.GreaterOrEqual(t, len(rows), 1)
		require.LessOrEqual(t, len(rows), 3)

		seen := make(map[string]bool)
		for _, l := range rows {
			assert.True(t, l.IsSynthetic)
			assert.False(t, l.NeedsDetail())
			assert.False(t, seen[l.Fingerprint])
			seen[l.Fingerprint] = true
			assert.True(t, strings.HasSuffix(l.Address, "Main St, Akron, Ohio"), l.Address)
		}
	}
}
