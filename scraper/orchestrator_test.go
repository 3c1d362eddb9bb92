package scraper

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawcrawl/config"
	"lawcrawl/models"
	"lawcrawl/queue"
	"lawcrawl/storage"
)

const austinURL = "https://www.lawinfo.com/personal-injury/texas/austin/"

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string][]byte
	errs   map[string]error
	called []string
}

func (f *fakeFetcher) FetchWith(_ context.Context, rawURL string, _ FetchOptions) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if body, ok := f.pages[rawURL]; ok {
		return &Page{URL: rawURL, StatusCode: http.StatusOK, Body: body}, nil
	}
	return nil, &FetchError{URL: rawURL, StatusCode: http.StatusNotFound, Err: errors.New("not found")}
}

// recordingQueue keeps enqueued tasks in memory.
type recordingQueue struct {
	queue.Queue
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *recordingQueue) Enqueue(_ context.Context, kind queue.Kind, _ any, opts ...queue.EnqueueOption) (queue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := queue.ApplyOptions(opts...)
	q.tasks = append(q.tasks, queue.Task{Kind: kind, JobID: o.JobID})
	return queue.NewHandle("t", q), nil
}

func (q *recordingQueue) count(kind queue.Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

func newTestOrchestrator(t *testing.T, cfg config.CrawlConfig, f PageFetcher) (*Orchestrator, *storage.MemoryStore, *recordingQueue) {
	t.Helper()
	store := storage.NewMemoryStore()
	o := NewOrchestrator(cfg, store, f, nil, nil)
	q := &recordingQueue{}
	o.SetQueue(q)
	return o, store, q
}

func startJob(t *testing.T, store *storage.MemoryStore, spec models.JobSpec) (*models.Job, []*models.DiscoveryUnit) {
	t.Helper()
	ctx := context.Background()
	job := &models.Job{Spec: spec.WithDefaults()}
	require.NoError(t, store.CreateJob(ctx, job))
	units := UnitsForJob(job)
	require.NoError(t, store.CreateUnits(ctx, units))
	_, err := store.TransitionJob(ctx, job.ID, models.JobCrawling, "")
	require.NoError(t, err)
	return job, units
}

func TestCrawlBasic_ThreeListings(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{pages: map[string][]byte{austinURL: loadFixture(t, "lawinfo_listing.html")}}
	o, store, q := newTestOrchestrator(t, config.CrawlConfig{AutoDetail: true}, f)
	job, units := startJob(t, store, models.JobSpec{Name: "austin", StartURLs: []string{austinURL}})

	n, err := o.CrawlBasic(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	lawyers, err := store.ListLawyers(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, lawyers, 3)
	for _, l := range lawyers {
		assert.NotEmpty(t, l.CompanyName)
		assert.False(t, l.IsDetailCrawled)
		assert.False(t, l.IsSynthetic)
		assert.Equal(t, "personal-injury", l.PracticeArea)
		assert.Equal(t, "austin", l.City)
		assert.NotEmpty(t, l.Fingerprint)
	}
	assert.Equal(t, models.EntityOrganization, lawyers[0].EntityType)

	unit, err := store.GetUnit(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitCompleted, unit.Status)
	assert.Equal(t, 3, unit.LawyersFound)

	assert.Equal(t, 3, q.count(queue.KindDetail))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, got.Status)
	assert.InDelta(t, 100.0, got.ProgressPercentage(), 0.001)
}

func TestCrawlBasic_RedeliveredIsNoop(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{pages: map[string][]byte{austinURL: loadFixture(t, "lawinfo_listing.html")}}
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{}, f)
	job, units := startJob(t, store, models.JobSpec{Name: "austin", StartURLs: []string{austinURL, austinURL + "?page=2"}})

	_, err := o.CrawlBasic(ctx, units[0].ID)
	require.NoError(t, err)

	n, err := o.CrawlBasic(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.called, 1, "a finished unit is not fetched again")

	lawyers, err := store.ListLawyers(ctx, job.ID, 0)
	require.NoError(t, err)
	assert.Len(t, lawyers, 3)
}

func TestCrawlBasic_NetworkErrorSyntheticFallback(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{errs: map[string]error{
		austinURL: &FetchError{URL: austinURL, Err: errors.New("connection reset by peer")},
	}}
	o, store, q := newTestOrchestrator(t, config.CrawlConfig{SyntheticFallback: true, AutoDetail: true, AutoLookup: true}, f)
	job, units := startJob(t, store, models.JobSpec{Name: "austin", StartURLs: []string{austinURL}})

	n, err := o.CrawlBasic(ctx, units[0].ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 3)

	unit, err := store.GetUnit(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitCompleted, unit.Status)
	assert.True(t, strings.HasPrefix(unit.ErrorMessage, "synthetic fallback:"))

	lawyers, err := store.ListLawyers(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, lawyers, n)
	for _, l := range lawyers {
		assert.True(t, l.IsSynthetic)
		assert.Contains(t, l.Email, ".invalid")
	}

	assert.Zero(t, q.count(queue.KindDetail))
	assert.Zero(t, q.count(queue.KindLookup), "synthetic rows are never enriched")

	need, err := store.LawyersNeedingLookup(ctx, job.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, need)
}

func TestCrawlBasic_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{errs: map[string]error{
		austinURL: &FetchError{URL: austinURL, StatusCode: http.StatusServiceUnavailable, Err: errors.New("503")},
	}}
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{}, f)
	retries := 1
	job, units := startJob(t, store, models.JobSpec{Name: "austin", StartURLs: []string{austinURL}, MaxRetries: &retries})

	_, err := o.CrawlBasic(ctx, units[0].ID)
	require.Error(t, err)
	assert.True(t, queue.IsTransient(err))

	unit, err := store.GetUnit(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitRetrying, unit.Status)

	_, err = o.CrawlBasic(ctx, units[0].ID)
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))

	unit, err = store.GetUnit(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitFailed, unit.Status)
	assert.Equal(t, 2, unit.Attempts)
	assert.NotEmpty(t, unit.ErrorMessage)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, got.Status, "partial failure still finishes the job")
	assert.Equal(t, 1, got.ErrorCount)
}

func TestCrawlBasic_ShutdownLeavesUnitRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{errs: map[string]error{
		austinURL: &FetchError{URL: austinURL, Err: context.Canceled},
	}}
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{SyntheticFallback: true}, f)
	zero := 0
	job, units := startJob(t, store, models.JobSpec{Name: "austin", StartURLs: []string{austinURL}, MaxRetries: &zero})

	_, err := o.CrawlBasic(ctx, units[0].ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, queue.IsTransient(err))

	unit, err := store.GetUnit(context.Background(), units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitRetrying, unit.Status, "an interrupted unit is not charged against its retry budget")

	lawyers, err := store.ListLawyers(context.Background(), job.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, lawyers, "no synthetic lawyers on shutdown")
}

func TestCrawlBasic_PausedJobDefers(t *testing.T) {
	ctx := context.Background()
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{}, &fakeFetcher{})
	job, units := startJob(t, store, models.JobSpec{Name: "austin", StartURLs: []string{austinURL}})
	_, err := store.TransitionJob(ctx, job.ID, models.JobPaused, "")
	require.NoError(t, err)

	_, err = o.CrawlBasic(ctx, units[0].ID)
	var d *queue.DeferError
	require.True(t, errors.As(err, &d))
	assert.Equal(t, pausedRecheck, d.After)

	unit, err := store.GetUnit(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitPending, unit.Status)
}

func TestCrawlBasic_TenUnitsPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{pages: map[string][]byte{}, errs: map[string]error{}}
	var urls []string
	for i, city := range []string{"austin", "dallas", "houston", "el-paso", "waco", "tyler", "laredo", "frisco", "plano", "irving"} {
		u := "https://www.lawinfo.com/personal-injury/texas/" + city + "/"
		urls = append(urls, u)
		if i < 7 {
			f.pages[u] = loadFixture(t, "lawinfo_listing.html")
		} else {
			f.errs[u] = &FetchError{URL: u, StatusCode: http.StatusNotFound, Err: errors.New("gone")}
		}
	}
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{}, f)
	job, units := startJob(t, store, models.JobSpec{Name: "texas", StartURLs: urls})
	require.Len(t, units, 10)

	for _, u := range units {
		_, _ = o.CrawlBasic(ctx, u.ID)
	}

	got, err := o.RecomputeJobProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalURLs)
	assert.Equal(t, 10, got.CrawledURLs)
	assert.Equal(t, 7, got.SuccessCount)
	assert.Equal(t, 3, got.ErrorCount)
	assert.InDelta(t, 100.0, got.ProgressPercentage(), 0.001)
	assert.Equal(t, models.JobDone, got.Status)

	again, err := o.RecomputeJobProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, got.CrawledURLs, again.CrawledURLs)
	assert.Equal(t, got.ErrorCount, again.ErrorCount)
}

func seedDetailLawyer(t *testing.T, store *storage.MemoryStore, detailURL string) *models.Lawyer {
	t.Helper()
	ctx := context.Background()
	job, units := startJob(t, store, models.JobSpec{Name: "austin", StartURLs: []string{austinURL}})
	_, _, err := store.ClaimUnit(ctx, units[0].ID, time.Now())
	require.NoError(t, err)
	inserted, err := store.CompleteUnit(ctx, units[0].ID, []*models.Lawyer{{
		JobID:       job.ID,
		Fingerprint: "baker",
		Domain:      "lawinfo",
		CompanyName: "Baker Law Group",
		Email:       "intake@bakerlawgroup.example",
		DetailURL:   detailURL,
		IsActive:    true,
	}}, "")
	require.NoError(t, err)
	return inserted[0]
}

func TestCrawlDetail_MergesSparseUpdate(t *testing.T) {
	ctx := context.Background()
	detailURL := "https://www.lawinfo.com/lawfirm/baker-law-group/austin-tx/123/"
	f := &fakeFetcher{pages: map[string][]byte{detailURL: loadFixture(t, "lawinfo_detail.html")}}
	o, store, q := newTestOrchestrator(t, config.CrawlConfig{AutoLookup: true}, f)
	l := seedDetailLawyer(t, store, detailURL)

	require.NoError(t, o.CrawlDetail(ctx, l.ID))

	got, err := store.GetLawyer(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDetailCrawled)
	assert.Equal(t, "+15125550100", got.Phone)
	assert.Equal(t, "intake@bakerlawgroup.example", got.Email, "fields missing from the page survive")
	assert.Contains(t, got.AttorneyDetails, "Tom Baker")
	assert.Equal(t, 1, q.count(queue.KindLookup))

	require.NoError(t, o.CrawlDetail(ctx, l.ID))
	assert.Len(t, f.called, 1, "a crawled lawyer is not fetched again")
}

func TestCrawlDetail_NoDetailURLIsIneligible(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{}
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{}, f)
	l := seedDetailLawyer(t, store, "")

	require.NoError(t, o.CrawlDetail(ctx, l.ID))
	assert.Empty(t, f.called)

	got, err := store.GetLawyer(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDetailCrawled)
}

func TestCrawlDetail_TransientErrorReleasesLease(t *testing.T) {
	ctx := context.Background()
	detailURL := "https://www.lawinfo.com/lawfirm/baker-law-group/austin-tx/123/"
	f := &fakeFetcher{errs: map[string]error{
		detailURL: &FetchError{URL: detailURL, StatusCode: http.StatusBadGateway, Err: errors.New("502")},
	}}
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{}, f)
	l := seedDetailLawyer(t, store, detailURL)

	err := o.CrawlDetail(ctx, l.ID)
	require.Error(t, err)
	assert.True(t, queue.IsTransient(err))

	need, err := store.LawyersNeedingDetail(ctx, l.JobID, 0)
	require.NoError(t, err)
	require.Len(t, need, 1, "the lease is released so a retry can claim it")
}

func TestCrawlDetail_NotFoundIsPermanent(t *testing.T) {
	ctx := context.Background()
	o, store, _ := newTestOrchestrator(t, config.CrawlConfig{}, &fakeFetcher{})
	l := seedDetailLawyer(t, store, "https://www.lawinfo.com/lawfirm/gone/")

	err := o.CrawlDetail(ctx, l.ID)
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
}
