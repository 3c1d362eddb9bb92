package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lawcrawl/config"
	"lawcrawl/models"
	"lawcrawl/queue"
	"lawcrawl/storage"
)

const (
	// staleLookup is how long a processing lookup blocks a new one.
	staleLookup     = 15 * time.Minute
	pausedRecheck   = 30 * time.Second
	inFlightRecheck = time.Minute
)

// Browser is the web automation fallback.
type Browser interface {
	AutomateLookup(ctx context.Context, keyword string) ([]string, error)
}

// Service finds contact emails for stored lawyers and merges them back in.
type Service struct {
	cfg     config.LookupConfig
	store   storage.Store
	client  *Client
	browser Browser
	archive storage.Archive
	queue   queue.Queue
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(cfg config.LookupConfig, store storage.Store, client *Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxProfiles <= 0 {
		cfg.MaxProfiles = 3
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.Mode == "" {
		cfg.Mode = "api"
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		client:  client,
		archive: storage.NopArchive{},
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetBrowser(b Browser) {
	s.browser = b
}

func (s *Service) SetArchive(a storage.Archive) {
	if a != nil {
		s.archive = a
	}
}

// SetQueue enables LookupMissing.
func (s *Service) SetQueue(q queue.Queue) {
	s.queue = q
}

// Lookup returns the lawyer's lookup record. Without force a previous
// successful lookup is returned as is and the provider is not called.
// A provider "not found" is a not_found record, not an error. While another
// worker holds the lawyer's lookup the call is deferred.
func (s *Service) Lookup(ctx context.Context, lawyerID int64, force bool) (*models.Lookup, error) {
	l, err := s.store.GetLawyer(ctx, lawyerID)
	if err != nil {
		return nil, eris.Wrapf(err, "get lawyer %d", lawyerID)
	}
	if l == nil {
		return nil, queue.Permanent(eris.Errorf("lawyer %d not found", lawyerID))
	}
	if l.IsSynthetic {
		return nil, queue.Permanent(eris.Errorf("lawyer %d is a synthetic placeholder", lawyerID))
	}
	log := s.logger.With(zap.Int64("lawyer_id", l.ID), zap.Int64("job_id", l.JobID))

	rec, created, err := s.store.StartLookup(ctx, newRecord(l, s.firstMethod()), force, s.now().Add(-staleLookup))
	if err != nil {
		return nil, eris.Wrapf(err, "start lookup for lawyer %d", l.ID)
	}
	if !created {
		if rec.Status == models.LookupProcessing {
			return rec, queue.Defer(inFlightRecheck, fmt.Sprintf("lookup %d still in progress", rec.ID))
		}
		log.Debug("reusing lookup", zap.Int64("lookup_id", rec.ID), zap.String("status", string(rec.Status)))
		return rec, nil
	}
	log = log.With(zap.Int64("lookup_id", rec.ID))

	if force {
		ctx = WithoutCache(ctx)
	}
	runErr := s.run(ctx, l, rec)
	now := s.now()
	rec.LookedUpAt = &now

	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrNotFound):
		rec.Status = models.LookupNotFound
		rec.Email = ""
	default:
		rec.Status = models.LookupFailed
		rec.ErrorMessage = runErr.Error()
	}

	// The outcome is stored even if the caller gave up waiting.
	finishCtx := context.WithoutCancel(ctx)
	if err := s.store.FinishLookup(finishCtx, rec); err != nil {
		return nil, eris.Wrapf(err, "finish lookup %d", rec.ID)
	}
	log.Info("lookup finished",
		zap.String("status", string(rec.Status)),
		zap.String("method", rec.Method),
		zap.String("email", rec.Email),
		zap.Int("credits", rec.CreditsUsed),
	)

	if rec.Status == models.LookupFailed {
		return rec, classify(runErr)
	}
	if rec.Successful() {
		if err := s.sync(finishCtx, rec); err != nil {
			// ApplyPendingSyncs retries it.
			log.Warn("sync lookup to lawyer failed", zap.Error(err))
		}
	}
	return rec, nil
}

func newRecord(l *models.Lawyer, method string) *models.Lookup {
	name := l.AttorneyName
	if name == "" || name == models.MultipleAttorneys {
		name = l.CompanyName
	}
	return &models.Lookup{
		LawyerID:       l.ID,
		Method:         method,
		LookupName:     name,
		LookupCompany:  l.CompanyName,
		LookupDomain:   websiteDomain(l.Website),
		LookupLocation: l.Location(),
	}
}

func websiteDomain(site string) string {
	if site == "" {
		return ""
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func (s *Service) firstMethod() string {
	if s.cfg.Mode == "browser" && s.browser != nil {
		return models.MethodBrowser
	}
	return models.MethodAPI
}

// run tries the configured path first and the other one when the first is
// unavailable.
func (s *Service) run(ctx context.Context, l *models.Lawyer, rec *models.Lookup) error {
	if rec.Method == models.MethodBrowser {
		err := s.runBrowser(ctx, l, rec)
		var ae *AutomationError
		if errors.As(err, &ae) && s.apiAvailable() {
			s.logger.Warn("browser lookup failed, using api", zap.String("stage", ae.Stage), zap.Error(ae.Err))
			resetOutcome(rec)
			rec.Method = models.MethodAPI
			return s.runAPI(ctx, l, rec)
		}
		return err
	}

	err := s.runAPI(ctx, l, rec)
	if err != nil && s.cfg.Mode == "auto" && s.browser != nil && apiUnavailable(err) {
		s.logger.Warn("api lookup unavailable, using browser", zap.Error(err))
		resetOutcome(rec)
		rec.Method = models.MethodBrowser
		if berr := s.runBrowser(ctx, l, rec); berr != nil {
			return eris.Wrapf(berr, "after api error %v", err)
		}
		return nil
	}
	return err
}

func (s *Service) apiAvailable() bool {
	return s.client != nil && s.client.apiKey != ""
}

// apiUnavailable reports errors that say the API path is down for us, as
// opposed to an answer about this lawyer.
func apiUnavailable(err error) bool {
	if errors.Is(err, ErrNoAPIKey) {
		return true
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Fatal() || apiErr.ServerSide()
	}
	return false
}

// classify marks a failed lookup's error for the task queue: bad
// credentials and a persisting 429 are final, provider outages and network
// errors go back on the queue with backoff.
func classify(err error) error {
	var apiErr *APIError
	var rl *RateLimitError
	var ae *AutomationError
	switch {
	case errors.Is(err, ErrNoAPIKey):
		return queue.Permanent(err)
	case errors.As(err, &apiErr):
		if apiErr.ServerSide() {
			return queue.Transient(err)
		}
		return queue.Permanent(err)
	case errors.As(err, &rl):
		return queue.Permanent(err)
	case errors.As(err, &ae):
		return queue.Permanent(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return queue.Transient(err)
}

func resetOutcome(rec *models.Lookup) {
	keep := *rec
	*rec = models.Lookup{
		ID:             keep.ID,
		LawyerID:       keep.LawyerID,
		Status:         keep.Status,
		Method:         keep.Method,
		LookupName:     keep.LookupName,
		LookupCompany:  keep.LookupCompany,
		LookupDomain:   keep.LookupDomain,
		LookupLocation: keep.LookupLocation,
		CreditsUsed:    keep.CreditsUsed,
		CreatedAt:      keep.CreatedAt,
	}
}

type rawResponses struct {
	CompanySearch json.RawMessage   `json:"company_search,omitempty"`
	PersonSearch  json.RawMessage   `json:"person_search,omitempty"`
	Profiles      []json.RawMessage `json:"profiles,omitempty"`
	Keyword       string            `json:"keyword,omitempty"`
	Emails        []string          `json:"emails,omitempty"`
}

func (s *Service) runAPI(ctx context.Context, l *models.Lawyer, rec *models.Lookup) error {
	if s.client == nil {
		return ErrNoAPIKey
	}
	var raw rawResponses
	defer func() { rec.RawResponse, _ = json.Marshal(raw) }()

	q := PersonQuery{Domain: rec.LookupDomain, Location: rec.LookupLocation}
	org := l.EntityType == models.EntityOrganization
	if org {
		employer := l.CompanyName
		companies, err := s.client.SearchCompany(ctx, l.CompanyName, rec.LookupDomain)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if companies != nil {
			raw.CompanySearch = companies.Raw
			s.archiveRaw(ctx, rec, "company-search", companies.Raw)
			if len(companies.Companies) > 0 && companies.Companies[0].Name != "" {
				employer = companies.Companies[0].Name
			}
		}
		q.Company = employer
		rec.CurrentEmployer = employer
	} else {
		q.Name = rec.LookupName
		if l.CompanyName != rec.LookupName {
			q.Company = l.CompanyName
		}
	}

	result, err := s.client.SearchPerson(ctx, q)
	if err != nil {
		return err
	}
	raw.PersonSearch = result.Raw
	s.archiveRaw(ctx, rec, "person-search", result.Raw)
	if len(result.Profiles) == 0 {
		return ErrNotFound
	}

	profiles := result.Profiles
	if len(profiles) > s.cfg.MaxProfiles {
		profiles = profiles[:s.cfg.MaxProfiles]
	}

	var candidates []models.EmployeeCandidate
	var chosen *Profile
	for i := range profiles {
		p := &profiles[i]
		if !p.HasFullEmails() && p.ID.String() != "" {
			full, err := s.client.LookupPerson(ctx, p.ID.String())
			switch {
			case err == nil:
				if !full.Cached {
					rec.CreditsUsed++
				}
				raw.Profiles = append(raw.Profiles, full.Raw)
				s.archiveRaw(ctx, rec, "profile-"+p.ID.String(), full.Raw)
				if full.ID.String() == "" {
					full.ID = p.ID
				}
				profiles[i] = *full
				p = &profiles[i]
			case errors.Is(err, ErrNotFound):
			case apiUnavailable(err):
				return err
			default:
				s.logger.Warn("detailed lookup failed, keeping search profile",
					zap.String("profile_id", p.ID.String()), zap.Error(err))
			}
		}

		c := candidateFromProfile(p)
		if len(c.Emails) == 0 {
			continue
		}
		candidates = append(candidates, c)
		if chosen == nil {
			chosen = p
		}
	}
	rec.EmployeeEmails = candidates
	if len(candidates) == 0 {
		rec.Status = models.LookupNotFound
		return nil
	}

	// An individual's result is their own best address. A firm takes the
	// best address across everyone found.
	pool := candidates[0].Emails
	if org {
		pool = nil
		for _, c := range candidates {
			pool = append(pool, c.Emails...)
		}
	}
	best, _ := BestEmail(pool)
	if org {
		chosen = profileOwning(profiles, candidates, best.Email, chosen)
	}

	rec.ProfileID = chosen.ID.String()
	rec.Email = best.Email
	rec.EmailType = best.Type
	rec.Phone = chosen.Phone()
	rec.LinkedInURL = chosen.LinkedInURL
	rec.TwitterURL = chosen.TwitterURL
	rec.FacebookURL = chosen.FacebookURL
	rec.CurrentTitle = chosen.CurrentTitle
	if chosen.CurrentEmployer != "" {
		rec.CurrentEmployer = chosen.CurrentEmployer
	}
	rec.Location = chosen.Location
	rec.ConfidenceScore = chosen.ConfidenceScore
	rec.Status = models.LookupCompleted
	return nil
}

// profileOwning finds the profile whose candidate holds addr.
func profileOwning(profiles []Profile, candidates []models.EmployeeCandidate, addr string, fallback *Profile) *Profile {
	for _, c := range candidates {
		for _, e := range c.Emails {
			if e.Email != addr {
				continue
			}
			for i := range profiles {
				if profiles[i].ID.String() == c.ProfileID {
					return &profiles[i]
				}
			}
		}
	}
	return fallback
}

func (s *Service) runBrowser(ctx context.Context, l *models.Lawyer, rec *models.Lookup) error {
	if s.browser == nil {
		return &AutomationError{Stage: StageLaunch, Err: eris.New("browser lookups are not enabled")}
	}
	keyword := rec.LookupName
	if l.CompanyName != "" && l.CompanyName != keyword {
		keyword += " " + l.CompanyName
	}

	found, err := s.browser.AutomateLookup(ctx, keyword)
	rec.RawResponse, _ = json.Marshal(rawResponses{Keyword: keyword, Emails: found})
	if err != nil {
		return err
	}
	s.archiveRaw(ctx, rec, "browser", rec.RawResponse)

	var emails []models.ContactEmail
	for _, e := range found {
		addr, ok := normalizeEmail(e)
		if !ok {
			continue
		}
		emails = append(emails, models.ContactEmail{Email: addr, Type: emailType(addr, "")})
	}
	best, ok := BestEmail(emails)
	if !ok {
		rec.Status = models.LookupNotFound
		return nil
	}

	rec.EmployeeEmails = []models.EmployeeCandidate{{
		Name:    rec.LookupName,
		Company: l.CompanyName,
		Emails:  emails,
	}}
	rec.Email = best.Email
	rec.EmailType = best.Type
	rec.Status = models.LookupFound
	return nil
}

func (s *Service) archiveRaw(ctx context.Context, rec *models.Lookup, kind string, body []byte) {
	if len(body) == 0 {
		return
	}
	if err := s.archive.Put(ctx, storage.LookupKey(rec.LawyerID, rec.ID, kind), body, "application/json"); err != nil {
		s.logger.Warn("archive lookup response failed", zap.Int64("lookup_id", rec.ID), zap.Error(err))
	}
}

// sync merges a successful lookup into its lawyer and stamps it synced.
func (s *Service) sync(ctx context.Context, rec *models.Lookup) error {
	l, err := s.store.GetLawyer(ctx, rec.LawyerID)
	if err != nil {
		return eris.Wrapf(err, "get lawyer %d", rec.LawyerID)
	}
	if l == nil {
		return eris.Errorf("lawyer %d not found", rec.LawyerID)
	}
	changed := SyncToLawyer(l, rec)
	if err := s.store.SyncLookup(ctx, l, rec.ID); err != nil {
		return eris.Wrapf(err, "sync lookup %d", rec.ID)
	}
	s.logger.Debug("lookup synced", zap.Int64("lookup_id", rec.ID), zap.Bool("changed", changed))
	return nil
}

// ApplyPendingSyncs merges successful lookups whose sync step never ran.
func (s *Service) ApplyPendingSyncs(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.LookupsPendingSync(ctx, limit)
	if err != nil {
		return 0, eris.Wrap(err, "list lookups pending sync")
	}
	n := 0
	for i := range pending {
		if err := s.sync(ctx, &pending[i]); err != nil {
			s.logger.Warn("apply pending sync failed", zap.Int64("lookup_id", pending[i].ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// LookupMissing queues a lookup for every lawyer of the job (all jobs when
// jobID is 0) that has no successful or running lookup.
func (s *Service) LookupMissing(ctx context.Context, jobID int64, limit int) (int, error) {
	if s.queue == nil {
		return 0, eris.New("lookup service has no queue")
	}
	lawyers, err := s.store.LawyersNeedingLookup(ctx, jobID, limit)
	if err != nil {
		return 0, eris.Wrap(err, "list lawyers needing lookup")
	}
	n := 0
	for _, l := range lawyers {
		if _, err := s.queue.Enqueue(ctx, queue.KindLookup, queue.LookupPayload{LawyerID: l.ID}, queue.WithJob(l.JobID)); err != nil {
			return n, eris.Wrapf(err, "enqueue lookup for lawyer %d", l.ID)
		}
		n++
	}
	if n > 0 {
		s.logger.Info("queued missing lookups", zap.Int64("job_id", jobID), zap.Int("count", n))
	}
	return n, nil
}

// CleanupLookups deletes failed and not_found lookups older than olderThan,
// or than the retention period when olderThan is zero.
func (s *Service) CleanupLookups(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = time.Duration(s.cfg.RetentionDays) * 24 * time.Hour
	}
	n, err := s.store.DeleteLookups(ctx, []models.LookupStatus{models.LookupFailed, models.LookupNotFound}, s.now().Add(-olderThan))
	if err != nil {
		return 0, eris.Wrap(err, "delete old lookups")
	}
	if n > 0 {
		s.logger.Info("cleaned up lookups", zap.Int("deleted", n))
	}
	return n, nil
}

// BulkResult summarizes LookupMany.
type BulkResult struct {
	Total     int
	Succeeded int
	NotFound  int
	Failed    int
}

// LookupMany runs lookups for ids with at most concurrency in flight. One
// lawyer's failure does not stop the others.
func (s *Service) LookupMany(ctx context.Context, ids []int64, force bool, concurrency int) (BulkResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]*models.Lookup, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := s.Lookup(gctx, id, force)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("bulk lookup failed", zap.Int64("lawyer_id", id), zap.Error(err))
			}
			results[i] = rec
			return nil
		})
	}
	err := g.Wait()

	res := BulkResult{Total: len(ids)}
	for _, rec := range results {
		switch {
		case rec == nil || rec.Status == models.LookupFailed:
			res.Failed++
		case rec.Successful():
			res.Succeeded++
		default:
			res.NotFound++
		}
	}
	return res, err
}

// HandleLookup is the queue handler for lookup tasks.
func (s *Service) HandleLookup(ctx context.Context, t *queue.Task) error {
	var p queue.LookupPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	l, err := s.store.GetLawyer(ctx, p.LawyerID)
	if err != nil {
		return eris.Wrapf(err, "get lawyer %d", p.LawyerID)
	}
	if l == nil {
		return queue.Permanent(eris.Errorf("lawyer %d not found", p.LawyerID))
	}
	if l.JobID != 0 {
		job, err := s.store.GetJob(ctx, l.JobID)
		if err != nil {
			return eris.Wrapf(err, "get job %d", l.JobID)
		}
		switch {
		case job == nil:
		case job.Status == models.JobPaused:
			return queue.Defer(pausedRecheck, "job paused")
		case job.Status == models.JobCancelled:
			return nil
		}
	}
	_, err = s.Lookup(ctx, p.LawyerID, p.Force)
	return err
}
