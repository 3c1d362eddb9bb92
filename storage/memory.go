package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"lawcrawl/models"
)

// ErrUnitNotRunning is returned when a unit is finished by a worker that no
// longer holds it, e.g. after a purge or a redelivered task.
var ErrUnitNotRunning = eris.New("discovery unit is not running")

// MemoryStore is a Store kept in process memory. It backs dry runs and tests
// and follows the same rules as PostgresStore.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	jobs         map[int64]*models.Job
	units        map[int64]*models.DiscoveryUnit
	lawyers      map[int64]*models.Lawyer
	leases       map[int64]time.Time
	fingerprints map[string]int64
	lookups      map[int64]*models.Lookup

	jobSeq, unitSeq, lawyerSeq, lookupSeq int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		jobs:         make(map[int64]*models.Job),
		units:        make(map[int64]*models.DiscoveryUnit),
		lawyers:      make(map[int64]*models.Lawyer),
		leases:       make(map[int64]time.Time),
		fingerprints: make(map[string]int64),
		lookups:      make(map[int64]*models.Lookup),
	}
}

func (s *MemoryStore) Close() {}

// ============================================================================
// Jobs
// ============================================================================

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobSeq++
	now := s.now()
	job.ID = s.jobSeq
	if job.Status == "" {
		job.Status = models.JobPending
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	stored := cloneJob(job)
	s.jobs[job.ID] = &stored
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	out := cloneJob(j)
	return &out, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, statuses ...models.JobStatus) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Job
	for _, j := range s.jobs {
		if len(statuses) > 0 && !containsStatus(statuses, j.Status) {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, id int64, to models.JobStatus, errMsg string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, eris.Errorf("job %d not found", id)
	}
	if err := models.ValidateJobTransition(j.Status, to); err != nil {
		return nil, err
	}
	applyJobTransition(j, to, errMsg, s.now())
	out := cloneJob(j)
	return &out, nil
}

func (s *MemoryStore) RefreshJobProgress(_ context.Context, id int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, eris.Errorf("job %d not found", id)
	}
	now := s.now()
	j.ApplyProgress(models.ComputeProgress(s.countUnitsLocked(id)), now)
	j.UpdatedAt = now
	out := cloneJob(j)
	return &out, nil
}

// ============================================================================
// Discovery units
// ============================================================================

func (s *MemoryStore) CreateUnits(_ context.Context, units []*models.DiscoveryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, u := range units {
		s.unitSeq++
		u.ID = s.unitSeq
		if u.Status == "" {
			u.Status = models.UnitPending
		}
		u.CreatedAt = now
		stored := *u
		s.units[u.ID] = &stored
	}
	return nil
}

func (s *MemoryStore) GetUnit(_ context.Context, id int64) (*models.DiscoveryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) ListUnits(_ context.Context, jobID int64) ([]models.DiscoveryUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.DiscoveryUnit
	for _, u := range s.units {
		if u.JobID == jobID {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) ClaimUnit(_ context.Context, id int64, staleBefore time.Time) (*models.DiscoveryUnit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return nil, false, nil
	}
	stale := u.Status == models.UnitRunning && u.StartedAt != nil && u.StartedAt.Before(staleBefore)
	if !u.Status.Claimable() && !stale {
		out := *u
		return &out, false, nil
	}

	now := s.now()
	u.Status = models.UnitRunning
	u.Attempts++
	u.StartedAt = &now
	u.CompletedAt = nil
	out := *u
	return &out, true, nil
}

func (s *MemoryStore) CompleteUnit(_ context.Context, unitID int64, lawyers []*models.Lawyer, note string) ([]*models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[unitID]
	if !ok {
		return nil, eris.Errorf("discovery unit %d not found", unitID)
	}
	if u.Status != models.UnitRunning {
		return nil, ErrUnitNotRunning
	}

	now := s.now()
	var inserted []*models.Lawyer
	for _, l := range lawyers {
		if _, dup := s.fingerprints[l.Fingerprint]; dup && l.Fingerprint != "" {
			continue
		}
		s.lawyerSeq++
		l.ID = s.lawyerSeq
		l.CreatedAt = now
		l.UpdatedAt = now
		l.Prepare()
		stored := cloneLawyer(l)
		s.lawyers[l.ID] = &stored
		if l.Fingerprint != "" {
			s.fingerprints[l.Fingerprint] = l.ID
		}
		inserted = append(inserted, l)
	}

	u.Status = models.UnitCompleted
	u.LawyersFound = len(inserted)
	u.ErrorMessage = note
	u.CompletedAt = &now
	return inserted, nil
}

func (s *MemoryStore) FailUnit(_ context.Context, unitID int64, status models.UnitStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[unitID]
	if !ok {
		return eris.Errorf("discovery unit %d not found", unitID)
	}
	if u.Status != models.UnitRunning {
		return ErrUnitNotRunning
	}
	u.Status = status
	u.ErrorMessage = errMsg
	if status == models.UnitFailed {
		now := s.now()
		u.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) ResetUnits(_ context.Context, jobID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, u := range s.units {
		if u.JobID != jobID {
			continue
		}
		resetUnit(u)
		n++
	}
	return n, nil
}

func (s *MemoryStore) CountUnits(_ context.Context, jobID int64) (models.UnitCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countUnitsLocked(jobID), nil
}

func (s *MemoryStore) countUnitsLocked(jobID int64) models.UnitCounts {
	counts := make(models.UnitCounts)
	for _, u := range s.units {
		if u.JobID == jobID {
			counts[u.Status]++
		}
	}
	return counts
}

// ============================================================================
// Lawyers
// ============================================================================

func (s *MemoryStore) GetLawyer(_ context.Context, id int64) (*models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lawyers[id]
	if !ok {
		return nil, nil
	}
	out := cloneLawyer(l)
	return &out, nil
}

func (s *MemoryStore) ListLawyers(_ context.Context, jobID int64, limit int) ([]models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filterLawyersLocked(limit, func(l *models.Lawyer) bool {
		return jobID == 0 || l.JobID == jobID
	}), nil
}

func (s *MemoryStore) UpdateLawyer(_ context.Context, l *models.Lawyer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLawyerLocked(l)
}

func (s *MemoryStore) updateLawyerLocked(l *models.Lawyer) error {
	if _, ok := s.lawyers[l.ID]; !ok {
		return eris.Errorf("lawyer %d not found", l.ID)
	}
	l.Prepare()
	l.UpdatedAt = s.now()
	stored := cloneLawyer(l)
	s.lawyers[l.ID] = &stored
	return nil
}

func (s *MemoryStore) ClaimDetail(_ context.Context, lawyerID int64, leaseUntil time.Time) (*models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lawyers[lawyerID]
	if !ok || !l.NeedsDetail() {
		return nil, nil
	}
	if until, leased := s.leases[lawyerID]; leased && until.After(s.now()) {
		return nil, nil
	}
	s.leases[lawyerID] = leaseUntil
	out := cloneLawyer(l)
	return &out, nil
}

func (s *MemoryStore) CompleteDetail(_ context.Context, l *models.Lawyer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.IsDetailCrawled = true
	if err := s.updateLawyerLocked(l); err != nil {
		return err
	}
	delete(s.leases, l.ID)
	return nil
}

func (s *MemoryStore) ReleaseDetail(_ context.Context, lawyerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, lawyerID)
	return nil
}

func (s *MemoryStore) LawyersNeedingDetail(_ context.Context, jobID int64, limit int) ([]models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return s.filterLawyersLocked(limit, func(l *models.Lawyer) bool {
		if jobID != 0 && l.JobID != jobID {
			return false
		}
		if until, leased := s.leases[l.ID]; leased && until.After(now) {
			return false
		}
		return l.NeedsDetail()
	}), nil
}

func (s *MemoryStore) LawyersNeedingLookup(_ context.Context, jobID int64, limit int) ([]models.Lawyer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	busy := make(map[int64]bool)
	for _, lk := range s.lookups {
		if lk.Successful() || lk.Status == models.LookupProcessing {
			busy[lk.LawyerID] = true
		}
	}
	return s.filterLawyersLocked(limit, func(l *models.Lawyer) bool {
		if jobID != 0 && l.JobID != jobID {
			return false
		}
		return l.IsActive && !l.IsSynthetic && !busy[l.ID]
	}), nil
}

func (s *MemoryStore) filterLawyersLocked(limit int, keep func(*models.Lawyer) bool) []models.Lawyer {
	ids := make([]int64, 0, len(s.lawyers))
	for id := range s.lawyers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var out []models.Lawyer
	for _, id := range ids {
		l := s.lawyers[id]
		if !keep(l) {
			continue
		}
		out = append(out, cloneLawyer(l))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ============================================================================
// Lookups
// ============================================================================

func (s *MemoryStore) StartLookup(_ context.Context, l *models.Lookup, force bool, staleBefore time.Time) (*models.Lookup, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lawyers[l.LawyerID]; !ok {
		return nil, false, eris.Errorf("lawyer %d not found", l.LawyerID)
	}

	var latestOK, inFlight *models.Lookup
	for _, lk := range s.lookups {
		if lk.LawyerID != l.LawyerID {
			continue
		}
		if lk.Successful() && (latestOK == nil || newerLookup(lk, latestOK)) {
			latestOK = lk
		}
		if lk.Status == models.LookupProcessing && lk.CreatedAt.After(staleBefore) {
			inFlight = lk
		}
	}
	if !force && latestOK != nil {
		out := cloneLookup(latestOK)
		return &out, false, nil
	}
	if inFlight != nil {
		out := cloneLookup(inFlight)
		return &out, false, nil
	}

	s.lookupSeq++
	l.ID = s.lookupSeq
	l.Status = models.LookupProcessing
	l.CreatedAt = s.now()
	stored := cloneLookup(l)
	s.lookups[l.ID] = &stored
	return l, true, nil
}

func (s *MemoryStore) FinishLookup(_ context.Context, l *models.Lookup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.lookups[l.ID]
	if !ok {
		return eris.Errorf("lookup %d not found", l.ID)
	}
	if existing.Status != models.LookupProcessing {
		return eris.Errorf("lookup %d is already %s", l.ID, existing.Status)
	}
	l.LawyerID = existing.LawyerID
	l.CreatedAt = existing.CreatedAt
	stored := cloneLookup(l)
	s.lookups[l.ID] = &stored
	return nil
}

func (s *MemoryStore) SyncLookup(_ context.Context, lawyer *models.Lawyer, lookupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lk, ok := s.lookups[lookupID]
	if !ok {
		return eris.Errorf("lookup %d not found", lookupID)
	}
	if err := s.updateLawyerLocked(lawyer); err != nil {
		return err
	}
	now := s.now()
	lk.SyncedAt = &now
	return nil
}

func (s *MemoryStore) GetLookup(_ context.Context, id int64) (*models.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lk, ok := s.lookups[id]
	if !ok {
		return nil, nil
	}
	out := cloneLookup(lk)
	return &out, nil
}

func (s *MemoryStore) ListLookups(_ context.Context, lawyerID int64) ([]models.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Lookup
	for _, lk := range s.lookups {
		if lk.LawyerID == lawyerID {
			out = append(out, cloneLookup(lk))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *MemoryStore) LookupsPendingSync(_ context.Context, limit int) ([]models.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Lookup
	for _, lk := range s.lookups {
		if lk.Successful() && lk.SyncedAt == nil {
			out = append(out, cloneLookup(lk))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteLookups(_ context.Context, statuses []models.LookupStatus, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, lk := range s.lookups {
		for _, st := range statuses {
			if lk.Status == st && lk.CreatedAt.Before(before) {
				delete(s.lookups, id)
				n++
				break
			}
		}
	}
	return n, nil
}

// ============================================================================
// Maintenance
// ============================================================================

func (s *MemoryStore) ResetInFlight(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	jobs := 0
	for _, j := range s.jobs {
		if j.Status.Active() || j.Status == models.JobPaused {
			applyJobTransition(j, models.JobPending, "", now)
			jobs++
		}
	}
	units := 0
	for _, u := range s.units {
		if u.Status == models.UnitRunning || u.Status == models.UnitRetrying {
			resetUnit(u)
			units++
		}
	}
	return jobs, units, nil
}

// ============================================================================
// Helpers shared with PostgresStore
// ============================================================================

func applyJobTransition(j *models.Job, to models.JobStatus, errMsg string, now time.Time) {
	j.Status = to
	j.UpdatedAt = now
	switch {
	case to == models.JobCrawling && j.StartedAt == nil:
		j.StartedAt = &now
	case to == models.JobPending:
		j.StartedAt = nil
		j.CompletedAt = nil
		j.ErrorMessage = ""
	case to.Terminal():
		j.CompletedAt = &now
	}
	if errMsg != "" {
		j.ErrorMessage = errMsg
	}
}

func resetUnit(u *models.DiscoveryUnit) {
	u.Status = models.UnitPending
	u.Attempts = 0
	u.LawyersFound = 0
	u.ErrorMessage = ""
	u.StartedAt = nil
	u.CompletedAt = nil
}

func newerLookup(a, b *models.Lookup) bool {
	at, bt := a.CreatedAt, b.CreatedAt
	if a.LookedUpAt != nil {
		at = *a.LookedUpAt
	}
	if b.LookedUpAt != nil {
		bt = *b.LookedUpAt
	}
	if at.Equal(bt) {
		return a.ID > b.ID
	}
	return at.After(bt)
}

func containsStatus(list []models.JobStatus, s models.JobStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneJob(j *models.Job) models.Job {
	out := *j
	out.Spec.StartURLs = append([]string(nil), j.Spec.StartURLs...)
	out.Spec.PracticeAreas = append([]string(nil), j.Spec.PracticeAreas...)
	if j.Spec.States != nil {
		out.Spec.States = make(map[string][]string, len(j.Spec.States))
		for state, cities := range j.Spec.States {
			out.Spec.States[state] = append([]string(nil), cities...)
		}
	}
	return out
}

func cloneLawyer(l *models.Lawyer) models.Lawyer {
	out := *l
	out.CompanyEmails = append([]models.CompanyEmail(nil), l.CompanyEmails...)
	out.EmployeeContacts = make([]models.EmployeeContact, len(l.EmployeeContacts))
	for i, c := range l.EmployeeContacts {
		c.Emails = append([]models.ContactEmail(nil), c.Emails...)
		out.EmployeeContacts[i] = c
	}
	if len(out.EmployeeContacts) == 0 {
		out.EmployeeContacts = nil
	}
	return out
}

func cloneLookup(l *models.Lookup) models.Lookup {
	out := *l
	out.RawResponse = append(json.RawMessage(nil), l.RawResponse...)
	out.EmployeeEmails = make([]models.EmployeeCandidate, len(l.EmployeeEmails))
	for i, c := range l.EmployeeEmails {
		c.Emails = append([]models.ContactEmail(nil), c.Emails...)
		out.EmployeeEmails[i] = c
	}
	if len(out.EmployeeEmails) == 0 {
		out.EmployeeEmails = nil
	}
	return out
}
