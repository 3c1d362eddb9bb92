package storage

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	spec          JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'PENDING',
	total_urls    INTEGER NOT NULL DEFAULT 0,
	crawled_urls  INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS discovery_units (
	id            BIGSERIAL PRIMARY KEY,
	job_id        BIGINT NOT NULL REFERENCES jobs(id),
	url           TEXT NOT NULL,
	site          TEXT NOT NULL DEFAULT '',
	practice_area TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'PENDING',
	attempts      INTEGER NOT NULL DEFAULT 0,
	lawyers_found INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lawyers (
	id                 BIGSERIAL PRIMARY KEY,
	job_id             BIGINT NOT NULL REFERENCES jobs(id),
	discovery_unit_id  BIGINT REFERENCES discovery_units(id),
	fingerprint        TEXT NOT NULL UNIQUE,
	source_url         TEXT NOT NULL DEFAULT '',
	domain             TEXT NOT NULL DEFAULT '',
	practice_area      TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	city               TEXT NOT NULL DEFAULT '',
	company_name       TEXT NOT NULL,
	attorney_name      TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL DEFAULT '',
	address            TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	practice_areas     TEXT NOT NULL DEFAULT '',
	attorney_details   TEXT NOT NULL DEFAULT '',
	law_school         TEXT NOT NULL DEFAULT '',
	bar_admissions     TEXT NOT NULL DEFAULT '',
	licensed_since     TEXT NOT NULL DEFAULT '',
	education          TEXT NOT NULL DEFAULT '',
	entity_type        TEXT NOT NULL DEFAULT 'unknown',
	company_emails     JSONB NOT NULL DEFAULT '[]',
	employee_contacts  JSONB NOT NULL DEFAULT '[]',
	detail_url         TEXT NOT NULL DEFAULT '',
	is_detail_crawled  BOOLEAN NOT NULL DEFAULT FALSE,
	is_synthetic       BOOLEAN NOT NULL DEFAULT FALSE,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	completeness_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	detail_lease_until TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lookups (
	id               BIGSERIAL PRIMARY KEY,
	lawyer_id        BIGINT NOT NULL REFERENCES lawyers(id),
	status           TEXT NOT NULL DEFAULT 'pending',
	method           TEXT NOT NULL DEFAULT 'api',
	lookup_name      TEXT NOT NULL DEFAULT '',
	lookup_company   TEXT NOT NULL DEFAULT '',
	lookup_domain    TEXT NOT NULL DEFAULT '',
	lookup_location  TEXT NOT NULL DEFAULT '',
	profile_id       TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	email_type       TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	linkedin_url     TEXT NOT NULL DEFAULT '',
	twitter_url      TEXT NOT NULL DEFAULT '',
	facebook_url     TEXT NOT NULL DEFAULT '',
	current_title    TEXT NOT NULL DEFAULT '',
	current_employer TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL DEFAULT '',
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	employee_emails  JSONB NOT NULL DEFAULT '[]',
	raw_response     JSONB,
	credits_used     INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	looked_up_at     TIMESTAMPTZ,
	synced_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_units_job_status ON discovery_units(job_id, status);
CREATE INDEX IF NOT EXISTS idx_lawyers_job ON lawyers(job_id);
CREATE INDEX IF NOT EXISTS idx_lawyers_needs_detail ON lawyers(job_id, id)
	WHERE detail_url <> '' AND NOT is_detail_crawled AND NOT is_synthetic;
CREATE INDEX IF NOT EXISTS idx_lookups_lawyer ON lookups(lawyer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_lookups_status ON lookups(status, created_at);
`
