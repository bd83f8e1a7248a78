package store

import "strings"

// schema is written once with dialect tokens so both backends share one
// table layout: {{TS}} timestamp, {{FLOAT}} double, {{JSON}} document.
const schema = `
CREATE TABLE IF NOT EXISTS discovery_queries (
	id                        TEXT PRIMARY KEY,
	job_id                    TEXT NOT NULL,
	keyword                   TEXT NOT NULL,
	location                  TEXT NOT NULL,
	category                  TEXT NOT NULL,
	status                    TEXT NOT NULL,
	error                     TEXT,
	results_found             INTEGER NOT NULL DEFAULT 0,
	results_saved             INTEGER NOT NULL DEFAULT 0,
	results_skipped_duplicate INTEGER NOT NULL DEFAULT 0,
	results_skipped_existing  INTEGER NOT NULL DEFAULT 0,
	results_filtered          INTEGER NOT NULL DEFAULT 0,
	created_at                {{TS}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discovery_queries_job ON discovery_queries(job_id);

CREATE TABLE IF NOT EXISTS prospects (
	id                   TEXT PRIMARY KEY,
	domain               TEXT NOT NULL,
	page_url             TEXT NOT NULL,
	page_title           TEXT NOT NULL DEFAULT '',
	discovery_category   TEXT NOT NULL DEFAULT '',
	discovery_location   TEXT NOT NULL DEFAULT '',
	discovery_keywords   TEXT NOT NULL DEFAULT '',
	discovery_query_id   TEXT REFERENCES discovery_queries(id),
	contact_email        TEXT,
	draft_subject        TEXT,
	draft_body           TEXT,
	final_body           TEXT,
	thread_id            TEXT,
	sequence_index       INTEGER NOT NULL DEFAULT 0,
	parent_id            TEXT,
	message_id           TEXT,
	discovery_status     TEXT NOT NULL DEFAULT 'DISCOVERED'
		CHECK (discovery_status IN ('DISCOVERED')),
	approval_status      TEXT NOT NULL DEFAULT 'PENDING'
		CHECK (approval_status IN ('PENDING', 'APPROVED', 'REJECTED')),
	scrape_status        TEXT NOT NULL DEFAULT 'NOT_STARTED'
		CHECK (scrape_status IN ('NOT_STARTED', 'SCRAPING', 'SCRAPED', 'ENRICHED', 'NO_EMAIL_FOUND', 'FAILED')),
	verification_status  TEXT NOT NULL DEFAULT 'UNVERIFIED'
		CHECK (verification_status IN ('UNVERIFIED', 'VERIFYING', 'VERIFIED', 'INVALID', 'RISKY')),
	draft_status         TEXT NOT NULL DEFAULT 'NONE'
		CHECK (draft_status IN ('NONE', 'DRAFTING', 'DRAFTED', 'DRAFT_FAILED')),
	send_status          TEXT NOT NULL DEFAULT 'NOT_SENT'
		CHECK (send_status IN ('NOT_SENT', 'SENDING', 'SENT', 'SEND_FAILED')),
	verification_score   {{FLOAT}},
	verification_payload {{JSON}},
	finder_payload       {{JSON}},
	last_error           TEXT,
	claim_job_id         TEXT,
	claim_axis           TEXT,
	claim_prev_status    TEXT,
	followups_sent       INTEGER NOT NULL DEFAULT 0,
	last_sent            {{TS}},
	version              BIGINT NOT NULL DEFAULT 0,
	created_at           {{TS}} NOT NULL,
	updated_at           {{TS}} NOT NULL,
	CHECK (send_status <> 'SENT' OR (final_body IS NOT NULL AND last_sent IS NOT NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_prospects_origin_domain ON prospects(domain) WHERE sequence_index = 0;
CREATE UNIQUE INDEX IF NOT EXISTS uq_prospects_thread_seq ON prospects(thread_id, sequence_index) WHERE thread_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_prospects_created ON prospects(created_at, id);
CREATE INDEX IF NOT EXISTS idx_prospects_claim_job ON prospects(claim_job_id) WHERE claim_job_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_prospects_query ON prospects(discovery_query_id);

CREATE TABLE IF NOT EXISTS send_log (
	id              TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL,
	prospect_id     TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	message_id      TEXT,
	error           TEXT,
	created_at      {{TS}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_send_log_prospect ON send_log(prospect_id);

CREATE TABLE IF NOT EXISTS replies (
	thread_id   TEXT NOT NULL,
	received_at {{TS}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replies_thread ON replies(thread_id);

CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	job_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
	scope_key     TEXT NOT NULL DEFAULT '*',
	params        {{JSON}},
	result        {{JSON}},
	error_message TEXT,
	created_at    {{TS}} NOT NULL,
	started_at    {{TS}},
	completed_at  {{TS}}
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_jobs_active_scope ON jobs(job_type, scope_key) WHERE status IN ('pending', 'running');
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS social_discovery_jobs (
	id                        TEXT PRIMARY KEY,
	job_id                    TEXT NOT NULL,
	platform                  TEXT NOT NULL,
	category                  TEXT NOT NULL,
	location                  TEXT NOT NULL,
	keywords                  TEXT NOT NULL DEFAULT '',
	status                    TEXT NOT NULL,
	error                     TEXT,
	results_found             INTEGER NOT NULL DEFAULT 0,
	results_saved             INTEGER NOT NULL DEFAULT 0,
	results_skipped_duplicate INTEGER NOT NULL DEFAULT 0,
	created_at                {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS social_profiles (
	id               TEXT PRIMARY KEY,
	platform         TEXT NOT NULL,
	username         TEXT NOT NULL,
	full_name        TEXT NOT NULL DEFAULT '',
	profile_url      TEXT NOT NULL,
	followers_count  INTEGER NOT NULL DEFAULT 0,
	engagement_score {{FLOAT}} NOT NULL DEFAULT 0,
	bio              TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL DEFAULT '',
	discovery_job_id TEXT,
	discovery_status TEXT NOT NULL DEFAULT 'DISCOVERED'
		CHECK (discovery_status IN ('DISCOVERED', 'QUALIFIED', 'REJECTED')),
	outreach_status  TEXT NOT NULL DEFAULT 'PENDING'
		CHECK (outreach_status IN ('PENDING', 'DRAFTED', 'SENT')),
	version          BIGINT NOT NULL DEFAULT 0,
	created_at       {{TS}} NOT NULL,
	updated_at       {{TS}} NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_social_profiles_handle ON social_profiles(platform, username);
CREATE INDEX IF NOT EXISTS idx_social_profiles_created ON social_profiles(created_at, id);

CREATE TABLE IF NOT EXISTS social_drafts (
	id                  TEXT PRIMARY KEY,
	profile_id          TEXT NOT NULL REFERENCES social_profiles(id) ON DELETE CASCADE,
	thread_id           TEXT NOT NULL,
	sequence_index      INTEGER NOT NULL DEFAULT 0,
	draft_subject       TEXT NOT NULL DEFAULT '',
	draft_body          TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'drafted'
		CHECK (status IN ('drafted', 'sending', 'sent', 'failed')),
	platform_message_id TEXT,
	last_error          TEXT,
	claim_job_id        TEXT,
	sent_at             {{TS}},
	created_at          {{TS}} NOT NULL,
	updated_at          {{TS}} NOT NULL,
	CHECK (status <> 'sent' OR sent_at IS NOT NULL)
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_social_drafts_thread_seq ON social_drafts(thread_id, sequence_index);
CREATE UNIQUE INDEX IF NOT EXISTS uq_social_drafts_origin ON social_drafts(profile_id) WHERE sequence_index = 0;

CREATE TABLE IF NOT EXISTS social_messages (
	id                  TEXT PRIMARY KEY,
	draft_id            TEXT NOT NULL,
	profile_id          TEXT NOT NULL,
	job_id              TEXT NOT NULL,
	platform            TEXT NOT NULL,
	platform_message_id TEXT,
	error               TEXT,
	created_at          {{TS}} NOT NULL
);
`

var (
	postgresSchema = strings.NewReplacer(
		"{{TS}}", "TIMESTAMPTZ",
		"{{FLOAT}}", "DOUBLE PRECISION",
		"{{JSON}}", "JSONB",
	).Replace(schema)

	sqliteSchema = strings.NewReplacer(
		"{{TS}}", "DATETIME",
		"{{FLOAT}}", "REAL",
		"{{JSON}}", "TEXT",
	).Replace(schema)
)
