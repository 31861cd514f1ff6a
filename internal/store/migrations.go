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

CREATE TABLE IF NOT EXISTS addresses (
	id          TEXT PRIMARY KEY,
	local_part  TEXT NOT NULL,
	domain      TEXT NOT NULL,
	email       TEXT NOT NULL UNIQUE,
	tier        TEXT NOT NULL DEFAULT 'free' CHECK(tier IN ('free', 'premium', 'business')),
	mode        TEXT NOT NULL DEFAULT 'managed' CHECK(mode IN ('managed', 'sealed')),
	public_key  BLOB NOT NULL,
	created_at  DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS address_keys (
	address_id TEXT PRIMARY KEY REFERENCES addresses(id) ON DELETE CASCADE,
	wrapped    BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	address_id      TEXT NOT NULL REFERENCES addresses(id) ON DELETE CASCADE,
	dedup_key       TEXT NOT NULL,
	sender          TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	received_at     DATETIME NOT NULL,
	size            INTEGER NOT NULL DEFAULT 0,
	read            INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	has_attachments INTEGER NOT NULL DEFAULT 0 CHECK(has_attachments IN (0, 1)),
	payload         BLOB NOT NULL,
	raw_key         TEXT NOT NULL DEFAULT '',
	UNIQUE(address_id, dedup_key)
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	address_id  TEXT NOT NULL REFERENCES addresses(id) ON DELETE CASCADE,
	message_id  TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	message     TEXT NOT NULL,
	read        INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_addresses_expires_at ON addresses(expires_at);
CREATE INDEX IF NOT EXISTS idx_addresses_domain ON addresses(domain);
CREATE INDEX IF NOT EXISTS idx_messages_address_id ON messages(address_id, id);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_address_id ON notifications(address_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS source_state (
	source       TEXT NOT NULL,
	mailbox      TEXT NOT NULL,
	uid_validity INTEGER NOT NULL DEFAULT 0,
	last_uid     INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (source, mailbox)
);

CREATE INDEX IF NOT EXISTS idx_messages_unread
	ON messages(address_id, read);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
