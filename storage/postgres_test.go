package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawcrawl/models"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock), mock
}

var unitColumnNames = []string{
	"id", "job_id", "url", "site", "practice_area", "state", "city", "status", "attempts",
	"lawyers_found", "error_message", "started_at", "completed_at", "created_at",
}

var lookupColumnNames = []string{
	"id", "lawyer_id", "status", "method", "lookup_name", "lookup_company", "lookup_domain",
	"lookup_location", "profile_id", "email", "email_type", "phone", "linkedin_url", "twitter_url",
	"facebook_url", "current_title", "current_employer", "location", "confidence_score",
	"employee_emails", "raw_response", "credits_used", "error_message", "created_at",
	"looked_up_at", "synced_at",
}

var lawyerColumnNames = []string{
	"id", "job_id", "discovery_unit_id", "fingerprint", "source_url", "domain", "practice_area",
	"state", "city", "company_name", "attorney_name", "phone", "address", "website", "email",
	"practice_areas", "attorney_details", "law_school", "bar_admissions", "licensed_since",
	"education", "entity_type", "company_emails", "employee_contacts", "detail_url",
	"is_detail_crawled", "is_synthetic", "is_active", "completeness_score", "quality_score",
	"created_at", "updated_at",
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS jobs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	job, err := s.GetJob(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimUnit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := started.Add(-time.Hour)

	mock.ExpectQuery(`UPDATE discovery_units\s+SET status = 'RUNNING'`).
		WithArgs(int64(3), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(unitColumnNames).AddRow(
			int64(3), int64(1), "https://www.lawinfo.com/personal-injury/texas/austin/", "lawinfo",
			"personal-injury", "texas", "austin", models.UnitRunning, 1, 0, "",
			&started, (*time.Time)(nil), created,
		))

	u, claimed, err := s.ClaimUnit(context.Background(), 3, started.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, models.UnitRunning, u.Status)
	assert.Equal(t, 1, u.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteUnit_SkipsDuplicateFingerprint(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM discovery_units WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(models.UnitRunning))
	mock.ExpectQuery(`INSERT INTO lawyers`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectQuery(`INSERT INTO lawyers`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`UPDATE discovery_units SET status = 'COMPLETED'`).
		WithArgs(int64(5), 1, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	lawyers := []*models.Lawyer{
		{JobID: 1, DiscoveryUnitID: 5, Fingerprint: "aa", CompanyName: "Baker Law Group"},
		{JobID: 1, DiscoveryUnitID: 5, Fingerprint: "bb", CompanyName: "Dana Whitfield"},
	}
	inserted, err := s.CompleteUnit(context.Background(), 5, lawyers, "")
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, int64(101), inserted[0].ID)
	assert.Equal(t, models.EntityOrganization, inserted[0].EntityType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteUnit_NotRunning(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM discovery_units`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(models.UnitCompleted))
	mock.ExpectRollback()

	_, err := s.CompleteUnit(context.Background(), 5, nil, "")
	assert.True(t, errors.Is(err, ErrUnitNotRunning))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailUnit_NotRunning(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE discovery_units SET status = \$2`).
		WithArgs(int64(8), models.UnitFailed, "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailUnit(context.Background(), 8, models.UnitFailed, "boom")
	assert.True(t, errors.Is(err, ErrUnitNotRunning))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LawyersNeedingDetail_FiltersByJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`detail_url <> '' AND NOT is_detail_crawled AND NOT is_synthetic`).
		WithArgs(pgxmock.AnyArg(), int64(7), 50).
		WillReturnRows(pgxmock.NewRows(lawyerColumnNames))

	lawyers, err := s.LawyersNeedingDetail(context.Background(), 7, 50)
	require.NoError(t, err)
	assert.Empty(t, lawyers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimDetail_NotEligible(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE lawyers SET detail_lease_until = \$2`).
		WithArgs(int64(11), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	l, err := s.ClaimDetail(context.Background(), 11, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartLookup_ReusesSuccessful(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	looked := created.Add(time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM lawyers WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectQuery(`status IN \('completed', 'found'\) AND email <> ''`).
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(lookupColumnNames).AddRow(
			int64(77), int64(9), models.LookupCompleted, models.MethodAPI, "Dana Whitfield",
			"Whitfield Law", "", "Austin, TX", "p1", "dana@whitfield.example", models.EmailProfessional,
			"", "", "", "", "", "", "", 0.9, []byte(`[]`), []byte(nil), 1, "",
			created, &looked, (*time.Time)(nil),
		))
	mock.ExpectCommit()

	lk, created2, err := s.StartLookup(context.Background(), &models.Lookup{LawyerID: 9}, false, created)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, int64(77), lk.ID)
	assert.Equal(t, "dana@whitfield.example", lk.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishLookup_AlreadyTerminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE lookups SET status = \$2`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishLookup(context.Background(), &models.Lookup{ID: 3, Status: models.LookupNotFound})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not processing")
	assert.NoError(t, mock.ExpectationsWereMet())
}
