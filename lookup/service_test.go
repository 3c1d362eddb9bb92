package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
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

// fakeProvider serves canned RocketReach answers per path and counts calls.
type fakeProvider struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]http.HandlerFunc
	keys     []string
}

func newFakeProvider(handlers map[string]http.HandlerFunc) (*fakeProvider, *httptest.Server) {
	p := &fakeProvider{calls: make(map[string]int), handlers: handlers}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.calls[r.URL.Path]++
		p.keys = append(p.keys, r.Header.Get("Api-Key"))
		h, ok := p.handlers[r.URL.Path]
		p.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	return p, srv
}

func (p *fakeProvider) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

func jsonBody(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

type fakeBrowser struct {
	emails []string
	err    error
	calls  []string
}

func (b *fakeBrowser) AutomateLookup(_ context.Context, keyword string) ([]string, error) {
	b.calls = append(b.calls, keyword)
	return b.emails, b.err
}

type recordingQueue struct {
	queue.Queue
	mu    sync.Mutex
	tasks []queue.LookupPayload
}

func (q *recordingQueue) Enqueue(_ context.Context, _ queue.Kind, payload any, _ ...queue.EnqueueOption) (queue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, payload.(queue.LookupPayload))
	return queue.NewHandle("t", q), nil
}

type testEnv struct {
	svc    *Service
	client *Client
	store  *storage.MemoryStore
	slept  []time.Duration
}

func newTestEnv(t *testing.T, baseURL, apiKey, mode string) *testEnv {
	t.Helper()
	env := &testEnv{store: storage.NewMemoryStore()}
	cfg := config.LookupConfig{
		APIKey:        apiKey,
		BaseURL:       baseURL,
		Mode:          mode,
		MaxProfiles:   3,
		CacheTTL:      time.Minute,
		RetentionDays: 7,
	}
	env.client = NewClient(cfg, nil, NewLimiter(map[Endpoint]Limits{}, nil), nil)
	env.client.sleep = func(ctx context.Context, d time.Duration) error {
		env.slept = append(env.slept, d)
		return ctx.Err()
	}
	env.svc = NewService(cfg, env.store, env.client, nil)
	return env
}

// seedLawyer stores l through the same path Stage 1 uses.
func seedLawyer(t *testing.T, store *storage.MemoryStore, l *models.Lawyer) *models.Lawyer {
	t.Helper()
	ctx := context.Background()
	job := &models.Job{Spec: models.JobSpec{Name: "seed"}.WithDefaults()}
	require.NoError(t, store.CreateJob(ctx, job))
	unit := &models.DiscoveryUnit{JobID: job.ID, URL: "https://www.example.com/" + l.Fingerprint}
	require.NoError(t, store.CreateUnits(ctx, []*models.DiscoveryUnit{unit}))
	_, claimed, err := store.ClaimUnit(ctx, unit.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	l.JobID = job.ID
	l.DiscoveryUnitID = unit.ID
	l.IsActive = true
	inserted, err := store.CompleteUnit(ctx, unit.ID, []*models.Lawyer{l}, "")
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	return inserted[0]
}

func individual() *models.Lawyer {
	return &models.Lawyer{
		Fingerprint:  "jane-smith",
		Domain:       "superlawyers",
		AttorneyName: "Jane Smith",
		CompanyName:  "Smith Injury Law",
		Website:      "https://www.smithinjurylaw.com",
		City:         "austin",
		State:        "texas",
	}
}

func firm() *models.Lawyer {
	return &models.Lawyer{
		Fingerprint: "baker-firm",
		Domain:      "lawinfo",
		CompanyName: "Baker & Cole Law Firm",
		Email:       "info@bakercole.com",
		Website:     "bakercole.com",
		City:        "akron",
		State:       "ohio",
	}
}

const teaserSearch = `{"profiles":[{"id":42,"name":"Jane Smith","current_title":"Partner","current_employer":"Smith Injury Law","teaser":{"emails":["smithinjurylaw.com","gmail.com"]}}]}`

const janeProfile = `{"id":42,"status":"complete","name":"Jane Smith","current_title":"Partner",
"current_employer":"Smith Injury Law","location":"Austin, Texas","linkedin_url":"https://linkedin.com/in/janesmith",
"confidence_score":0.92,"phones":[{"number":"512-555-0100","type":"work"}],
"emails":[
 {"email":"jane.smith@gmail.com","type":"personal","smtp_valid":"valid","grade":"A"},
 {"email":"JSmith@SmithInjuryLaw.com","type":"professional","smtp_valid":"inconclusive","grade":"B"}
]}`

func TestLookup_NotFoundIsNotAnError(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusNotFound, `{"detail":"Not found."}`),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())

	rec, err := env.svc.Lookup(context.Background(), l.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LookupNotFound, rec.Status)
	assert.Empty(t, rec.Email)
	assert.Equal(t, 1, provider.count("/api/universal/person/search"))

	got, err := env.store.GetLawyer(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Email)
}

func TestLookup_IndividualFound(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusOK, teaserSearch),
		"/person/lookup/42":            jsonBody(http.StatusOK, janeProfile),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())

	rec, err := env.svc.Lookup(context.Background(), l.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LookupCompleted, rec.Status)
	assert.Equal(t, models.MethodAPI, rec.Method)
	assert.Equal(t, "jsmith@smithinjurylaw.com", rec.Email, "professional beats personal")
	assert.Equal(t, models.EmailProfessional, rec.EmailType)
	assert.Equal(t, "42", rec.ProfileID)
	assert.Equal(t, "512-555-0100", rec.Phone)
	assert.Equal(t, 1, rec.CreditsUsed)
	assert.Equal(t, "Jane Smith", rec.LookupName)
	assert.Equal(t, "smithinjurylaw.com", rec.LookupDomain)
	assert.Equal(t, "austin, texas", rec.LookupLocation)
	assert.NotEmpty(t, rec.RawResponse)
	assert.Equal(t, 1, provider.count("/person/lookup/42"))
	assert.Equal(t, []string{"test-key", "test-key"}, provider.keys)

	got, err := env.store.GetLawyer(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, "jsmith@smithinjurylaw.com", got.Email)
	emails := got.AllEmails()
	require.Len(t, emails, 2)
	assert.Equal(t, "jane.smith@gmail.com", emails[1].Email)

	stored, err := env.store.GetLookup(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.SyncedAt)
}

func TestLookup_ReusesSuccessfulLookup(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusOK, teaserSearch),
		"/person/lookup/42":            jsonBody(http.StatusOK, janeProfile),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())
	ctx := context.Background()

	first, err := env.svc.Lookup(ctx, l.ID, false)
	require.NoError(t, err)
	second, err := env.svc.Lookup(ctx, l.ID, false)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Email, second.Email)
	lookups, err := env.store.ListLookups(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, lookups, 1)
	assert.Equal(t, 1, provider.count("/api/universal/person/search"))

	forced, err := env.svc.Lookup(ctx, l.ID, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)
	lookups, err = env.store.ListLookups(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, lookups, 2)

	// A forced lookup goes back to the provider even inside the cache TTL.
	assert.Equal(t, 2, provider.count("/api/universal/person/search"))
	assert.Equal(t, 2, provider.count("/person/lookup/42"))
	assert.Equal(t, 1, first.CreditsUsed)
	assert.Equal(t, 1, forced.CreditsUsed)
}

func TestLookup_CachedProfileSpendsNoCredit(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusOK, teaserSearch),
		"/person/lookup/42":            jsonBody(http.StatusOK, janeProfile),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	ctx := context.Background()

	a := seedLawyer(t, env.store, individual())
	twin := individual()
	twin.Fingerprint = "jane-smith-duplicate"
	b := seedLawyer(t, env.store, twin)

	first, err := env.svc.Lookup(ctx, a.ID, false)
	require.NoError(t, err)
	second, err := env.svc.Lookup(ctx, b.ID, false)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.count("/person/lookup/42"))
	assert.Equal(t, 1, first.CreditsUsed)
	assert.Equal(t, 0, second.CreditsUsed)
	assert.Equal(t, first.Email, second.Email)
}

func TestLookup_InFlightLookupDefers(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusOK, teaserSearch),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())
	ctx := context.Background()

	held, created, err := env.store.StartLookup(ctx, &models.Lookup{LawyerID: l.ID, Method: models.MethodAPI}, false, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, created)

	rec, err := env.svc.Lookup(ctx, l.ID, false)
	var d *queue.DeferError
	require.ErrorAs(t, err, &d)
	assert.Equal(t, held.ID, rec.ID)
	assert.Equal(t, 0, provider.count("/api/universal/person/search"))

	err = env.svc.HandleLookup(ctx, &queue.Task{Kind: queue.KindLookup, Payload: []byte(fmt.Sprintf(`{"lawyer_id":%d}`, l.ID))})
	assert.ErrorAs(t, err, &d, "a redelivered task waits for the running lookup")
}

func TestLookup_RateLimitRetriesOnce(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	_, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits++
			n := hits
			mu.Unlock()
			if n == 1 {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			jsonBody(http.StatusOK, `{"profiles":[{"id":7,"name":"Jane Smith","emails":[{"email":"jane@smithinjurylaw.com","type":"professional"}]}]}`)(w, r)
		},
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())

	rec, err := env.svc.Lookup(context.Background(), l.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LookupCompleted, rec.Status)
	assert.Equal(t, "jane@smithinjurylaw.com", rec.Email)
	assert.Equal(t, 0, rec.CreditsUsed, "search result already had full emails")
	assert.Equal(t, []time.Duration{7 * time.Second}, env.slept)
}

func TestLookup_RateLimitTwiceFails(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		},
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())

	rec, err := env.svc.Lookup(context.Background(), l.ID, false)
	require.Error(t, err)
	var rl *RateLimitError
	assert.True(t, errors.As(err, &rl))
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, models.LookupFailed, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)
	assert.Equal(t, 2, provider.count("/api/universal/person/search"))
	assert.Equal(t, []time.Duration{3 * time.Second}, env.slept)
}

func TestLookup_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		sentinel  error
		permanent bool
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, true},
		{"forbidden", http.StatusForbidden, ErrForbidden, true},
		{"server error", http.StatusBadGateway, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, srv := newFakeProvider(map[string]http.HandlerFunc{
				"/api/universal/person/search": jsonBody(tt.status, `{"detail":"nope"}`),
			})
			defer srv.Close()
			env := newTestEnv(t, srv.URL, "test-key", "api")
			l := seedLawyer(t, env.store, individual())

			rec, err := env.svc.Lookup(context.Background(), l.ID, false)
			require.Error(t, err)
			assert.Equal(t, models.LookupFailed, rec.Status)
			assert.Equal(t, tt.permanent, queue.IsPermanent(err))
			assert.Equal(t, !tt.permanent, queue.IsTransient(err))
			if tt.sentinel != nil {
				assert.True(t, errors.Is(err, tt.sentinel))
			}
			assert.Equal(t, 1, provider.count("/api/universal/person/search"), "no inline retry")
		})
	}
}

func TestLookup_UniversalCreditsFallsBackToLegacySearch(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusForbidden, `{"detail":"Universal Credits are required for this endpoint"}`),
		"/person/search":               jsonBody(http.StatusOK, `{"profiles":[{"id":9,"name":"Jane Smith","emails":[{"email":"jane@smithinjurylaw.com","type":"professional","smtp_valid":"valid"}]}]}`),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())

	rec, err := env.svc.Lookup(context.Background(), l.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LookupCompleted, rec.Status)
	assert.Equal(t, "jane@smithinjurylaw.com", rec.Email)
	assert.Equal(t, 1, provider.count("/person/search"))
}

func TestLookup_OrganizationKeepsPrimaryEmail(t *testing.T) {
	provider, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/company/search": jsonBody(http.StatusOK, `{"companies":[{"id":5,"name":"Baker & Cole LLP","domain":"bakercole.com"}]}`),
		"/api/universal/person/search": jsonBody(http.StatusOK, `{"profiles":[
			{"id":1,"name":"Ann Baker","current_title":"Partner","emails":[{"email":"ann@bakercole.com","type":"professional","smtp_valid":"valid","grade":"A"}]},
			{"id":2,"name":"Tom Cole","current_title":"Associate","emails":[{"email":"tom@bakercole.com","type":"professional","grade":"B"}]}
		]}`),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, firm())
	require.Equal(t, models.EntityOrganization, l.EntityType)
	ctx := context.Background()

	rec, err := env.svc.Lookup(ctx, l.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LookupCompleted, rec.Status)
	assert.Equal(t, "ann@bakercole.com", rec.Email, "valid beats unverified")
	assert.Equal(t, "Ann Baker", rec.EmployeeEmails[0].Name)
	assert.Len(t, rec.EmployeeEmails, 2)
	assert.Equal(t, 1, provider.count("/company/search"))

	got, err := env.store.GetLawyer(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "info@bakercole.com", got.Email)
	require.Len(t, got.EmployeeContacts, 2)

	_, err = env.svc.Lookup(ctx, l.ID, true)
	require.NoError(t, err)
	got, err = env.store.GetLawyer(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, got.EmployeeContacts, 2, "repeat lookups merge by name and title")
	assert.Equal(t, "info@bakercole.com", got.Email)
}

func TestLookup_AutoModeFallsBackToBrowser(t *testing.T) {
	_, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusUnauthorized, `{"detail":"Invalid API key"}`),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "auto")
	browser := &fakeBrowser{emails: []string{"Jane@SmithInjuryLaw.com", "not-an-email"}}
	env.svc.SetBrowser(browser)
	l := seedLawyer(t, env.store, individual())

	rec, err := env.svc.Lookup(context.Background(), l.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.LookupFound, rec.Status)
	assert.Equal(t, models.MethodBrowser, rec.Method)
	assert.Equal(t, "jane@smithinjurylaw.com", rec.Email)
	assert.Equal(t, []string{"Jane Smith Smith Injury Law"}, browser.calls)

	got, err := env.store.GetLawyer(context.Background(), l.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.CompanyEmails)
	assert.Equal(t, models.SourceRocketWeb, got.CompanyEmails[0].Source)
}

func TestLookup_AutomationErrorIsNotNotFound(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1", "", "browser")
	env.svc.SetBrowser(&fakeBrowser{err: &AutomationError{Stage: StageCaptcha, Err: errors.New("blocked")}})
	l := seedLawyer(t, env.store, individual())

	rec, err := env.svc.Lookup(context.Background(), l.ID, false)
	require.Error(t, err)
	var ae *AutomationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, StageCaptcha, ae.Stage)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, models.LookupFailed, rec.Status)
}

func TestLookup_SkipsSyntheticLawyers(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1", "test-key", "api")
	l := individual()
	l.IsSynthetic = true
	l = seedLawyer(t, env.store, l)

	_, err := env.svc.Lookup(context.Background(), l.ID, false)
	assert.True(t, queue.IsPermanent(err))
}

func TestHandleLookup_NotFoundCompletesTask(t *testing.T) {
	_, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": jsonBody(http.StatusNotFound, `{}`),
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	l := seedLawyer(t, env.store, individual())

	task := &queue.Task{ID: "t1", Kind: queue.KindLookup, Payload: []byte(fmt.Sprintf(`{"lawyer_id":%d}`, l.ID))}
	assert.NoError(t, env.svc.HandleLookup(context.Background(), task))
}

func TestHandleLookup_PausedJobDefers(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1", "test-key", "api")
	l := seedLawyer(t, env.store, individual())
	ctx := context.Background()
	_, err := env.store.TransitionJob(ctx, l.JobID, models.JobCrawling, "")
	require.NoError(t, err)
	_, err = env.store.TransitionJob(ctx, l.JobID, models.JobPaused, "")
	require.NoError(t, err)

	task := &queue.Task{ID: "t1", Kind: queue.KindLookup, Payload: []byte(fmt.Sprintf(`{"lawyer_id":%d}`, l.ID))}
	err = env.svc.HandleLookup(ctx, task)
	var d *queue.DeferError
	assert.True(t, errors.As(err, &d))
}

func TestLookupMissing(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1", "test-key", "api")
	q := &recordingQueue{}
	env.svc.SetQueue(q)
	a := seedLawyer(t, env.store, individual())
	synthetic := firm()
	synthetic.IsSynthetic = true
	seedLawyer(t, env.store, synthetic)

	n, err := env.svc.LookupMissing(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []queue.LookupPayload{{LawyerID: a.ID}}, q.tasks)
}

func TestCleanupAndPendingSyncs(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1", "test-key", "api")
	ctx := context.Background()
	l := seedLawyer(t, env.store, individual())

	failed, created, err := env.store.StartLookup(ctx, &models.Lookup{LawyerID: l.ID, Method: models.MethodAPI}, true, time.Now())
	require.NoError(t, err)
	require.True(t, created)
	failed.Status = models.LookupFailed
	require.NoError(t, env.store.FinishLookup(ctx, failed))

	ok, _, err := env.store.StartLookup(ctx, &models.Lookup{LawyerID: l.ID, Method: models.MethodAPI}, true, time.Now())
	require.NoError(t, err)
	ok.Status = models.LookupCompleted
	ok.Email = "jane@smithinjurylaw.com"
	ok.EmailType = models.EmailProfessional
	require.NoError(t, env.store.FinishLookup(ctx, ok))

	n, err := env.svc.ApplyPendingSyncs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := env.store.GetLawyer(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@smithinjurylaw.com", got.Email)

	n, err = env.svc.ApplyPendingSyncs(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.svc.CleanupLookups(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is past retention yet")

	env.svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	n, err = env.svc.CleanupLookups(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	lookups, err := env.store.ListLookups(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, lookups, 1)
	assert.Equal(t, ok.ID, lookups[0].ID)
}

func TestLookupMany(t *testing.T) {
	_, srv := newFakeProvider(map[string]http.HandlerFunc{
		"/api/universal/person/search": func(w http.ResponseWriter, r *http.Request) {
			jsonBody(http.StatusNotFound, `{}`)(w, r)
		},
	})
	defer srv.Close()
	env := newTestEnv(t, srv.URL, "test-key", "api")
	a := seedLawyer(t, env.store, individual())
	b := seedLawyer(t, env.store, firm())

	res, err := env.svc.LookupMany(context.Background(), []int64{a.ID, b.ID, 999}, false, 2)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Total: 3, NotFound: 2, Failed: 1}, res)
}
