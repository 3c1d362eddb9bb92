package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"lawcrawl/models"
)

// pgxPool is the subset of *pgxpool.Pool the store uses, so tests can
// substitute pgxmock.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	pool pgxPool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "parse config")
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, eris.Wrap(err, "create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping")
	}

	return newPostgresStore(pool), nil
}

func newPostgresStore(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the tables when they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return eris.Wrap(err, "migrate postgres")
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "commit tx")
}

// =============================================================================
// Jobs
// =============================================================================

const jobColumns = `id, name, spec, status, total_urls, crawled_urls, success_count, error_count,
	error_message, created_at, started_at, completed_at, updated_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var spec []byte
	err := row.Scan(&j.ID, &j.Spec.Name, &spec, &j.Status, &j.TotalURLs, &j.CrawledURLs,
		&j.SuccessCount, &j.ErrorCount, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt,
		&j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &j.Spec); err != nil {
			return nil, eris.Wrapf(err, "decode spec of job %d", j.ID)
		}
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	spec, err := json.Marshal(job.Spec)
	if err != nil {
		return eris.Wrap(err, "encode job spec")
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now

	err = s.pool.QueryRow(ctx, `
		INSERT INTO jobs (name, spec, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		job.Spec.Name, spec, job.Status, job.ErrorMessage, now, now,
	).Scan(&job.ID)
	return eris.Wrap(err, "create job")
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get job %d", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "list jobs")
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id int64, to models.JobStatus, errMsg string) (*models.Job, error) {
	var out *models.Job
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("job %d not found", id)
		}
		if err != nil {
			return eris.Wrapf(err, "lock job %d", id)
		}
		if err := models.ValidateJobTransition(j.Status, to); err != nil {
			return err
		}

		applyJobTransition(j, to, errMsg, s.now())
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = $2, error_message = $3, started_at = $4, completed_at = $5, updated_at = $6
			WHERE id = $1`,
			j.ID, j.Status, j.ErrorMessage, j.StartedAt, j.CompletedAt, j.UpdatedAt)
		if err != nil {
			return eris.Wrapf(err, "update job %d", id)
		}
		out = j
		return nil
	})
	return out, err
}

func (s *PostgresStore) RefreshJobProgress(ctx context.Context, id int64) (*models.Job, error) {
	var out *models.Job
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("job %d not found", id)
		}
		if err != nil {
			return eris.Wrapf(err, "lock job %d", id)
		}

		counts, err := countUnits(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.now()
		j.ApplyProgress(models.ComputeProgress(counts), now)
		j.UpdatedAt = now
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = $2, total_urls = $3, crawled_urls = $4, success_count = $5,
				error_count = $6, completed_at = $7, updated_at = $8
			WHERE id = $1`,
			j.ID, j.Status, j.TotalURLs, j.CrawledURLs, j.SuccessCount, j.ErrorCount, j.CompletedAt, j.UpdatedAt)
		if err != nil {
			return eris.Wrapf(err, "update progress of job %d", id)
		}
		out = j
		return nil
	})
	return out, err
}

// =============================================================================
// Discovery units
// =============================================================================

const unitColumns = `id, job_id, url, site, practice_area, state, city, status, attempts,
	lawyers_found, error_message, started_at, completed_at, created_at`

func scanUnit(row rowScanner) (*models.DiscoveryUnit, error) {
	var u models.DiscoveryUnit
	err := row.Scan(&u.ID, &u.JobID, &u.URL, &u.Site, &u.PracticeArea, &u.State, &u.City,
		&u.Status, &u.Attempts, &u.LawyersFound, &u.ErrorMessage, &u.StartedAt, &u.CompletedAt, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUnits(ctx context.Context, units []*models.DiscoveryUnit) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		now := s.now()
		for _, u := range units {
			if u.Status == "" {
				u.Status = models.UnitPending
			}
			u.CreatedAt = now
			err := tx.QueryRow(ctx, `
				INSERT INTO discovery_units (job_id, url, site, practice_area, state, city, status, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`,
				u.JobID, u.URL, u.Site, u.PracticeArea, u.State, u.City, u.Status, now,
			).Scan(&u.ID)
			if err != nil {
				return eris.Wrapf(err, "insert unit %s", u.URL)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetUnit(ctx context.Context, id int64) (*models.DiscoveryUnit, error) {
	u, err := scanUnit(s.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM discovery_units WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get unit %d", id)
	}
	return u, nil
}

func (s *PostgresStore) ListUnits(ctx context.Context, jobID int64) ([]models.DiscoveryUnit, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+unitColumns+` FROM discovery_units WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "list units of job %d", jobID)
	}
	defer rows.Close()

	var units []models.DiscoveryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan unit")
		}
		units = append(units, *u)
	}
	return units, eris.Wrap(rows.Err(), "list units")
}

func (s *PostgresStore) ClaimUnit(ctx context.Context, id int64, staleBefore time.Time) (*models.DiscoveryUnit, bool, error) {
	u, err := scanUnit(s.pool.QueryRow(ctx, `
		UPDATE discovery_units
		SET status = 'RUNNING', attempts = attempts + 1, started_at = $2, completed_at = NULL
		WHERE id = $1
			AND (status IN ('PENDING', 'RETRYING') OR (status = 'RUNNING' AND started_at < $3))
		RETURNING `+unitColumns,
		id, s.now(), staleBefore))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := s.GetUnit(ctx, id)
		return existing, false, err
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "claim unit %d", id)
	}
	return u, true, nil
}

func (s *PostgresStore) CompleteUnit(ctx context.Context, unitID int64, lawyers []*models.Lawyer, note string) ([]*models.Lawyer, error) {
	var inserted []*models.Lawyer
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var status models.UnitStatus
		err := tx.QueryRow(ctx, `SELECT status FROM discovery_units WHERE id = $1 FOR UPDATE`, unitID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("discovery unit %d not found", unitID)
		}
		if err != nil {
			return eris.Wrapf(err, "lock unit %d", unitID)
		}
		if status != models.UnitRunning {
			return ErrUnitNotRunning
		}

		now := s.now()
		for _, l := range lawyers {
			ok, err := insertLawyer(ctx, tx, l, now)
			if err != nil {
				return err
			}
			if ok {
				inserted = append(inserted, l)
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE discovery_units SET status = 'COMPLETED', lawyers_found = $2, error_message = $3, completed_at = $4
			WHERE id = $1`,
			unitID, len(inserted), note, now)
		return eris.Wrapf(err, "complete unit %d", unitID)
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *PostgresStore) FailUnit(ctx context.Context, unitID int64, status models.UnitStatus, errMsg string) error {
	var completedAt *time.Time
	if status == models.UnitFailed {
		now := s.now()
		completedAt = &now
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_units SET status = $2, error_message = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1 AND status = 'RUNNING'`,
		unitID, status, errMsg, completedAt)
	if err != nil {
		return eris.Wrapf(err, "fail unit %d", unitID)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotRunning
	}
	return nil
}

func (s *PostgresStore) ResetUnits(ctx context.Context, jobID int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE discovery_units SET status = 'PENDING', attempts = 0, lawyers_found = 0, error_message = '',
			started_at = NULL, completed_at = NULL
		WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "reset units of job %d", jobID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountUnits(ctx context.Context, jobID int64) (models.UnitCounts, error) {
	return countUnits(ctx, s.pool, jobID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func countUnits(ctx context.Context, q querier, jobID int64) (models.UnitCounts, error) {
	rows, err := q.Query(ctx, `SELECT status, COUNT(*) FROM discovery_units WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "count units of job %d", jobID)
	}
	defer rows.Close()

	counts := make(models.UnitCounts)
	for rows.Next() {
		var status models.UnitStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "scan unit count")
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "count units")
}

// =============================================================================
// Lawyers
// =============================================================================

const lawyerColumns = `id, job_id, COALESCE(discovery_unit_id, 0), fingerprint, source_url, domain,
	practice_area, state, city, company_name, attorney_name, phone, address, website, email,
	practice_areas, attorney_details, law_school, bar_admissions, licensed_since, education,
	entity_type, company_emails, employee_contacts, detail_url, is_detail_crawled, is_synthetic,
	is_active, completeness_score, quality_score, created_at, updated_at`

func scanLawyer(row rowScanner) (*models.Lawyer, error) {
	var l models.Lawyer
	var emails, contacts []byte
	err := row.Scan(&l.ID, &l.JobID, &l.DiscoveryUnitID, &l.Fingerprint, &l.SourceURL, &l.Domain,
		&l.PracticeArea, &l.State, &l.City, &l.CompanyName, &l.AttorneyName, &l.Phone, &l.Address,
		&l.Website, &l.Email, &l.PracticeAreas, &l.AttorneyDetails, &l.LawSchool, &l.BarAdmissions,
		&l.LicensedSince, &l.Education, &l.EntityType, &emails, &contacts, &l.DetailURL,
		&l.IsDetailCrawled, &l.IsSynthetic, &l.IsActive, &l.CompletenessScore, &l.QualityScore,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(emails) > 0 {
		if err := json.Unmarshal(emails, &l.CompanyEmails); err != nil {
			return nil, eris.Wrapf(err, "decode company_emails of lawyer %d", l.ID)
		}
	}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &l.EmployeeContacts); err != nil {
			return nil, eris.Wrapf(err, "decode employee_contacts of lawyer %d", l.ID)
		}
	}
	return &l, nil
}

func encodeEmailColumns(l *models.Lawyer) ([]byte, []byte, error) {
	emails := l.CompanyEmails
	if emails == nil {
		emails = []models.CompanyEmail{}
	}
	contacts := l.EmployeeContacts
	if contacts == nil {
		contacts = []models.EmployeeContact{}
	}
	e, err := json.Marshal(emails)
	if err != nil {
		return nil, nil, eris.Wrap(err, "encode company_emails")
	}
	c, err := json.Marshal(contacts)
	if err != nil {
		return nil, nil, eris.Wrap(err, "encode employee_contacts")
	}
	return e, c, nil
}

// insertLawyer reports false when the fingerprint is already stored.
func insertLawyer(ctx context.Context, tx pgx.Tx, l *models.Lawyer, now time.Time) (bool, error) {
	l.Prepare()
	l.CreatedAt = now
	l.UpdatedAt = now
	emails, contacts, err := encodeEmailColumns(l)
	if err != nil {
		return false, err
	}

	var unitID *int64
	if l.DiscoveryUnitID != 0 {
		unitID = &l.DiscoveryUnitID
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO lawyers (
			job_id, discovery_unit_id, fingerprint, source_url, domain, practice_area, state, city,
			company_name, attorney_name, phone, address, website, email, practice_areas,
			attorney_details, law_school, bar_admissions, licensed_since, education, entity_type,
			company_emails, employee_contacts, detail_url, is_detail_crawled, is_synthetic, is_active,
			completeness_score, quality_score, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31
		)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id`,
		l.JobID, unitID, l.Fingerprint, l.SourceURL, l.Domain, l.PracticeArea, l.State, l.City,
		l.CompanyName, l.AttorneyName, l.Phone, l.Address, l.Website, l.Email, l.PracticeAreas,
		l.AttorneyDetails, l.LawSchool, l.BarAdmissions, l.LicensedSince, l.Education, l.EntityType,
		emails, contacts, l.DetailURL, l.IsDetailCrawled, l.IsSynthetic, l.IsActive,
		l.CompletenessScore, l.QualityScore, now, now,
	).Scan(&l.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "insert lawyer %q", l.CompanyName)
	}
	return true, nil
}

func (s *PostgresStore) updateLawyer(ctx context.Context, e execer, l *models.Lawyer, finishDetail bool) error {
	l.Prepare()
	l.UpdatedAt = s.now()
	emails, contacts, err := encodeEmailColumns(l)
	if err != nil {
		return err
	}

	query := `
		UPDATE lawyers SET company_name = $2, attorney_name = $3, phone = $4, address = $5, website = $6,
			email = $7, practice_areas = $8, attorney_details = $9, law_school = $10, bar_admissions = $11,
			licensed_since = $12, education = $13, entity_type = $14, company_emails = $15,
			employee_contacts = $16, detail_url = $17, is_detail_crawled = $18, is_active = $19,
			completeness_score = $20, quality_score = $21, updated_at = $22`
	if finishDetail {
		query += `, detail_lease_until = NULL`
	}
	query += ` WHERE id = $1`

	tag, err := e.Exec(ctx, query,
		l.ID, l.CompanyName, l.AttorneyName, l.Phone, l.Address, l.Website, l.Email, l.PracticeAreas,
		l.AttorneyDetails, l.LawSchool, l.BarAdmissions, l.LicensedSince, l.Education, l.EntityType,
		emails, contacts, l.DetailURL, l.IsDetailCrawled, l.IsActive, l.CompletenessScore,
		l.QualityScore, l.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "update lawyer %d", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lawyer %d not found", l.ID)
	}
	return nil
}

func (s *PostgresStore) GetLawyer(ctx context.Context, id int64) (*models.Lawyer, error) {
	l, err := scanLawyer(s.pool.QueryRow(ctx, `SELECT `+lawyerColumns+` FROM lawyers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get lawyer %d", id)
	}
	return l, nil
}

// queryLawyers appends the optional job filter, ordering and limit to a
// query whose WHERE clause is already open.
func (s *PostgresStore) queryLawyers(ctx context.Context, where string, jobID int64, limit int, args ...any) ([]models.Lawyer, error) {
	query := `SELECT ` + lawyerColumns + ` FROM lawyers WHERE ` + where
	if jobID != 0 {
		args = append(args, jobID)
		query += fmt.Sprintf(` AND job_id = $%d`, len(args))
	}
	query += ` ORDER BY id`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query lawyers")
	}
	defer rows.Close()

	var out []models.Lawyer
	for rows.Next() {
		l, err := scanLawyer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan lawyer")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "query lawyers")
}

func (s *PostgresStore) ListLawyers(ctx context.Context, jobID int64, limit int) ([]models.Lawyer, error) {
	return s.queryLawyers(ctx, `TRUE`, jobID, limit)
}

func (s *PostgresStore) UpdateLawyer(ctx context.Context, l *models.Lawyer) error {
	return s.updateLawyer(ctx, s.pool, l, false)
}

func (s *PostgresStore) ClaimDetail(ctx context.Context, lawyerID int64, leaseUntil time.Time) (*models.Lawyer, error) {
	l, err := scanLawyer(s.pool.QueryRow(ctx, `
		UPDATE lawyers SET detail_lease_until = $2
		WHERE id = $1 AND detail_url <> '' AND NOT is_detail_crawled AND NOT is_synthetic
			AND (detail_lease_until IS NULL OR detail_lease_until < $3)
		RETURNING `+lawyerColumns,
		lawyerID, leaseUntil, s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "claim detail of lawyer %d", lawyerID)
	}
	return l, nil
}

func (s *PostgresStore) CompleteDetail(ctx context.Context, l *models.Lawyer) error {
	l.IsDetailCrawled = true
	return s.updateLawyer(ctx, s.pool, l, true)
}

func (s *PostgresStore) ReleaseDetail(ctx context.Context, lawyerID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE lawyers SET detail_lease_until = NULL WHERE id = $1`, lawyerID)
	return eris.Wrapf(err, "release detail lease of lawyer %d", lawyerID)
}

func (s *PostgresStore) LawyersNeedingDetail(ctx context.Context, jobID int64, limit int) ([]models.Lawyer, error) {
	return s.queryLawyers(ctx, `detail_url <> '' AND NOT is_detail_crawled AND NOT is_synthetic
		AND (detail_lease_until IS NULL OR detail_lease_until < $1)`, jobID, limit, s.now())
}

func (s *PostgresStore) LawyersNeedingLookup(ctx context.Context, jobID int64, limit int) ([]models.Lawyer, error) {
	return s.queryLawyers(ctx, `is_active AND NOT is_synthetic AND NOT EXISTS (
			SELECT 1 FROM lookups lk WHERE lk.lawyer_id = lawyers.id
				AND ((lk.status IN ('completed', 'found') AND lk.email <> '') OR lk.status = 'processing')
		)`, jobID, limit)
}

// =============================================================================
// Lookups
// =============================================================================

const lookupColumns = `id, lawyer_id, status, method, lookup_name, lookup_company, lookup_domain,
	lookup_location, profile_id, email, email_type, phone, linkedin_url, twitter_url, facebook_url,
	current_title, current_employer, location, confidence_score, employee_emails, raw_response,
	credits_used, error_message, created_at, looked_up_at, synced_at`

func scanLookup(row rowScanner) (*models.Lookup, error) {
	var l models.Lookup
	var employees, raw []byte
	err := row.Scan(&l.ID, &l.LawyerID, &l.Status, &l.Method, &l.LookupName, &l.LookupCompany,
		&l.LookupDomain, &l.LookupLocation, &l.ProfileID, &l.Email, &l.EmailType, &l.Phone,
		&l.LinkedInURL, &l.TwitterURL, &l.FacebookURL, &l.CurrentTitle, &l.CurrentEmployer,
		&l.Location, &l.ConfidenceScore, &employees, &raw, &l.CreditsUsed, &l.ErrorMessage,
		&l.CreatedAt, &l.LookedUpAt, &l.SyncedAt)
	if err != nil {
		return nil, err
	}
	if len(employees) > 0 {
		if err := json.Unmarshal(employees, &l.EmployeeEmails); err != nil {
			return nil, eris.Wrapf(err, "decode employee_emails of lookup %d", l.ID)
		}
	}
	if len(raw) > 0 {
		l.RawResponse = json.RawMessage(raw)
	}
	return &l, nil
}

func (s *PostgresStore) StartLookup(ctx context.Context, l *models.Lookup, force bool, staleBefore time.Time) (*models.Lookup, bool, error) {
	var (
		out     *models.Lookup
		created bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM lawyers WHERE id = $1 FOR UPDATE`, l.LawyerID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("lawyer %d not found", l.LawyerID)
		}
		if err != nil {
			return eris.Wrapf(err, "lock lawyer %d", l.LawyerID)
		}

		if !force {
			existing, err := scanLookup(tx.QueryRow(ctx, `
				SELECT `+lookupColumns+` FROM lookups
				WHERE lawyer_id = $1 AND status IN ('completed', 'found') AND email <> ''
				ORDER BY COALESCE(looked_up_at, created_at) DESC, id DESC
				LIMIT 1`, l.LawyerID))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return eris.Wrap(err, "find successful lookup")
			}
		}

		inFlight, err := scanLookup(tx.QueryRow(ctx, `
			SELECT `+lookupColumns+` FROM lookups
			WHERE lawyer_id = $1 AND status = 'processing' AND created_at > $2
			ORDER BY created_at DESC
			LIMIT 1`, l.LawyerID, staleBefore))
		if err == nil {
			out = inFlight
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrap(err, "find processing lookup")
		}

		l.Status = models.LookupProcessing
		l.CreatedAt = s.now()
		err = tx.QueryRow(ctx, `
			INSERT INTO lookups (lawyer_id, status, method, lookup_name, lookup_company, lookup_domain,
				lookup_location, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			l.LawyerID, l.Status, l.Method, l.LookupName, l.LookupCompany, l.LookupDomain,
			l.LookupLocation, l.CreatedAt,
		).Scan(&l.ID)
		if err != nil {
			return eris.Wrap(err, "insert lookup")
		}
		out = l
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) FinishLookup(ctx context.Context, l *models.Lookup) error {
	employees := l.EmployeeEmails
	if employees == nil {
		employees = []models.EmployeeCandidate{}
	}
	empJSON, err := json.Marshal(employees)
	if err != nil {
		return eris.Wrap(err, "encode employee_emails")
	}
	var raw []byte
	if len(l.RawResponse) > 0 {
		raw = l.RawResponse
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE lookups SET status = $2, method = $3, profile_id = $4, email = $5, email_type = $6,
			phone = $7, linkedin_url = $8, twitter_url = $9, facebook_url = $10, current_title = $11,
			current_employer = $12, location = $13, confidence_score = $14, employee_emails = $15,
			raw_response = $16, credits_used = $17, error_message = $18, looked_up_at = $19
		WHERE id = $1 AND status = 'processing'`,
		l.ID, l.Status, l.Method, l.ProfileID, l.Email, l.EmailType, l.Phone, l.LinkedInURL,
		l.TwitterURL, l.FacebookURL, l.CurrentTitle, l.CurrentEmployer, l.Location,
		l.ConfidenceScore, empJSON, raw, l.CreditsUsed, l.ErrorMessage, l.LookedUpAt)
	if err != nil {
		return eris.Wrapf(err, "finish lookup %d", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lookup %d is not processing", l.ID)
	}
	return nil
}

func (s *PostgresStore) SyncLookup(ctx context.Context, lawyer *models.Lawyer, lookupID int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.updateLawyer(ctx, tx, lawyer, false); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE lookups SET synced_at = $2 WHERE id = $1`, lookupID, s.now())
		return eris.Wrapf(err, "mark lookup %d synced", lookupID)
	})
}

func (s *PostgresStore) GetLookup(ctx context.Context, id int64) (*models.Lookup, error) {
	l, err := scanLookup(s.pool.QueryRow(ctx, `SELECT `+lookupColumns+` FROM lookups WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get lookup %d", id)
	}
	return l, nil
}

func (s *PostgresStore) queryLookups(ctx context.Context, query string, args ...any) ([]models.Lookup, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query lookups")
	}
	defer rows.Close()

	var out []models.Lookup
	for rows.Next() {
		l, err := scanLookup(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan lookup")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "query lookups")
}

func (s *PostgresStore) ListLookups(ctx context.Context, lawyerID int64) ([]models.Lookup, error) {
	return s.queryLookups(ctx, `SELECT `+lookupColumns+` FROM lookups WHERE lawyer_id = $1 ORDER BY id`, lawyerID)
}

func (s *PostgresStore) LookupsPendingSync(ctx context.Context, limit int) ([]models.Lookup, error) {
	query := `SELECT ` + lookupColumns + ` FROM lookups
		WHERE status IN ('completed', 'found') AND email <> '' AND synced_at IS NULL
		ORDER BY id`
	if limit > 0 {
		return s.queryLookups(ctx, query+` LIMIT $1`, limit)
	}
	return s.queryLookups(ctx, query)
}

func (s *PostgresStore) DeleteLookups(ctx context.Context, statuses []models.LookupStatus, before time.Time) (int, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM lookups WHERE status = ANY($1) AND created_at < $2`, names, before)
	if err != nil {
		return 0, eris.Wrap(err, "delete lookups")
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Maintenance
// =============================================================================

// ResetInFlight is an administrative reset and skips the transition rules.
func (s *PostgresStore) ResetInFlight(ctx context.Context) (int, int, error) {
	var jobs, units int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE jobs SET status = 'PENDING', started_at = NULL, completed_at = NULL, error_message = '',
				updated_at = $1
			WHERE status IN ('CRAWLING', 'RETRYING', 'PAUSED')`, s.now())
		if err != nil {
			return eris.Wrap(err, "reset jobs")
		}
		jobs = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `
			UPDATE discovery_units SET status = 'PENDING', attempts = 0, lawyers_found = 0, error_message = '',
				started_at = NULL, completed_at = NULL
			WHERE status IN ('RUNNING', 'RETRYING')`)
		if err != nil {
			return eris.Wrap(err, "reset units")
		}
		units = int(tag.RowsAffected())
		return nil
	})
	return jobs, units, err
}
