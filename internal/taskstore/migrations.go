package taskstore

const schema = `
CREATE TABLE IF NOT EXISTS batch_tasks (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'pending',
    completed_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    items TEXT NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    ended_at TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_batch_tasks_status ON batch_tasks(status);

CREATE TABLE IF NOT EXISTS outcomes (
    task_id TEXT NOT NULL REFERENCES batch_tasks(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    identity TEXT NOT NULL,
    email TEXT,
    password TEXT,
    kind TEXT NOT NULL,
    error_kind TEXT,
    step TEXT,
    message TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    PRIMARY KEY (task_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_outcomes_kind ON outcomes(kind);

CREATE TABLE IF NOT EXISTS identities (
    identity TEXT PRIMARY KEY,
    display_name TEXT,
    password TEXT,
    birth_date TEXT,
    phone TEXT,
    imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
