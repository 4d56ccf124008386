package store

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    families TEXT NOT NULL,
    modes TEXT NOT NULL,
    found INTEGER NOT NULL,
    succeeded INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    success BOOLEAN NOT NULL,
    cancelled BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    campaign_id INTEGER NOT NULL,
    family TEXT NOT NULL,
    label TEXT,
    path TEXT NOT NULL,
    kind TEXT,
    scope TEXT,
    mode TEXT NOT NULL,
    outcome TEXT NOT NULL,
    changes INTEGER,
    records INTEGER,
    protected BOOLEAN,
    detail TEXT,
    FOREIGN KEY (campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS backups (
    path TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    label TEXT,
    kind TEXT,
    size_bytes INTEGER,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_campaign ON results(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_started ON campaigns(started_at);
CREATE INDEX IF NOT EXISTS idx_backups_source ON backups(source);
`
