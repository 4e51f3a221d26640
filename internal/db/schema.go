package db

// Schema is the DDL for the triage database.
const Schema = `
CREATE TABLE IF NOT EXISTS emails (
    id           TEXT PRIMARY KEY,
    thread_id    TEXT NOT NULL,
    message_id   TEXT,
    in_reply_to  TEXT,
    from_addr    TEXT NOT NULL,
    to_addr      TEXT,
    subject      TEXT NOT NULL,
    body         TEXT,
    received_at  TEXT NOT NULL,
    labels       TEXT,
    fetched_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
    message_id   TEXT PRIMARY KEY,
    thread_id    TEXT NOT NULL,
    subject      TEXT NOT NULL,
    from_addr    TEXT,
    tier         INTEGER NOT NULL,
    category     TEXT NOT NULL,
    label        TEXT,
    action       TEXT NOT NULL,
    reason       TEXT,
    status       TEXT NOT NULL DEFAULT 'pending',
    note         TEXT,
    decided_at   TEXT NOT NULL,
    updated_at   TEXT
);

CREATE TABLE IF NOT EXISTS markers (
    message_id   TEXT NOT NULL,
    action       TEXT NOT NULL,
    detail       TEXT,
    created_at   TEXT NOT NULL,
    PRIMARY KEY (message_id, action)
);

CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    mode         TEXT NOT NULL,
    started_at   TEXT NOT NULL,
    finished_at  TEXT,
    processed    INTEGER DEFAULT 0,
    failures     INTEGER DEFAULT 0,
    healthy      INTEGER,
    error        TEXT,
    fetched_through TEXT
);

CREATE TABLE IF NOT EXISTS cost_snapshots (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at     TEXT NOT NULL,
    data         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(thread_id);
CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_tier ON decisions(tier);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// migrations add columns introduced after a table was first created. Each
// fails harmlessly when the column already exists.
var migrations = []string{
	"ALTER TABLE runs ADD COLUMN fetched_through TEXT",
}
