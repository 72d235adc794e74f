package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS campaigns (
	id                    TEXT PRIMARY KEY,
	reference             TEXT NOT NULL UNIQUE,
	name                  TEXT NOT NULL,
	list_id               TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'draft'
		CHECK(status IN ('draft', 'active', 'paused', 'completed', 'archived')),
	inter_email_delay_sec INTEGER NOT NULL DEFAULT 0,
	window_start          TEXT NOT NULL DEFAULT '09:00',
	window_end            TEXT NOT NULL DEFAULT '17:00',
	allowed_days          TEXT NOT NULL DEFAULT 'mon,tue,wed,thu,fri',
	timezone              TEXT NOT NULL DEFAULT '',
	jitter_minutes        INTEGER NOT NULL DEFAULT 0,
	daily_cap             INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS email_steps (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	step_number INTEGER NOT NULL CHECK(step_number >= 1),
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	attachments TEXT NOT NULL DEFAULT '[]',
	delay_days  INTEGER NOT NULL DEFAULT 0 CHECK(delay_days >= 0),
	active      INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	created_at  DATETIME NOT NULL,
	UNIQUE(campaign_id, step_number)
);

CREATE TABLE IF NOT EXISTS contacts (
	id            TEXT PRIMARY KEY,
	list_id       TEXT NOT NULL,
	email         TEXT NOT NULL,
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	company       TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	custom_fields TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL,
	UNIQUE(list_id, email)
);

CREATE TABLE IF NOT EXISTS campaign_contacts (
	campaign_id             TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	contact_id              TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	status                  TEXT NOT NULL DEFAULT 'pending',
	current_step            INTEGER NOT NULL DEFAULT 0,
	enrolled_at             DATETIME NOT NULL,
	last_email_sent_at      DATETIME,
	next_email_scheduled_at DATETIME,
	responded_at            DATETIME,
	updated_at              DATETIME NOT NULL,
	PRIMARY KEY (campaign_id, contact_id)
);

CREATE TABLE IF NOT EXISTS email_queue (
	id             TEXT PRIMARY KEY,
	campaign_id    TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	contact_id     TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	step_number    INTEGER NOT NULL,
	scheduled_at   DATETIME NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'sending', 'sent', 'failed', 'skipped')),
	attempts       INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT '',
	message_handle TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

-- At most one open item per (campaign, contact).
CREATE UNIQUE INDEX IF NOT EXISTS idx_email_queue_open_pair
	ON email_queue(campaign_id, contact_id)
	WHERE status IN ('pending', 'sending');

CREATE INDEX IF NOT EXISTS idx_email_queue_status_scheduled
	ON email_queue(status, scheduled_at);

CREATE TABLE IF NOT EXISTS suppressions (
	email        TEXT NOT NULL,
	scope        TEXT NOT NULL CHECK(scope IN ('global', 'campaign')),
	source       TEXT NOT NULL,
	campaign_id  TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	campaign_ref TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	PRIMARY KEY (email, scope, campaign_id)
);

CREATE TABLE IF NOT EXISTS email_log (
	id             TEXT PRIMARY KEY,
	queue_id       TEXT NOT NULL DEFAULT '',
	campaign_id    TEXT NOT NULL DEFAULT '',
	contact_id     TEXT NOT NULL DEFAULT '',
	step_number    INTEGER NOT NULL DEFAULT 0,
	email          TEXT NOT NULL,
	subject        TEXT NOT NULL DEFAULT '',
	outcome        TEXT NOT NULL CHECK(outcome IN ('sent', 'failed', 'bounced', 'skipped')),
	message_handle TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_campaign_contacts_contact ON campaign_contacts(contact_id);
CREATE INDEX IF NOT EXISTS idx_campaign_contacts_status ON campaign_contacts(status);
CREATE INDEX IF NOT EXISTS idx_email_log_campaign_created ON email_log(campaign_id, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
