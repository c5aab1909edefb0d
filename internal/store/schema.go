package store

const schema = `
-- Behavioral patterns learned from task history, corrections, and metrics
CREATE TABLE IF NOT EXISTS patterns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    context TEXT NOT NULL,
    action TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('success', 'failure')),
    confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
    frequency INTEGER NOT NULL DEFAULT 1 CHECK(frequency >= 1),
    agent_id TEXT NOT NULL DEFAULT '',
    last_seen TEXT NOT NULL
);

-- Merge identity: one row per (source, context, action, outcome, agent)
CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_identity
    ON patterns(source, context, action, outcome, agent_id);
CREATE INDEX IF NOT EXISTS idx_patterns_agent ON patterns(agent_id);

-- Per-agent daily performance metrics (one row per agent per calendar date)
CREATE TABLE IF NOT EXISTS agent_metrics (
    agent_id TEXT NOT NULL,
    date TEXT NOT NULL,
    tasks_completed INTEGER NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    avg_duration_ms REAL NOT NULL DEFAULT 0,
    override_rate REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (agent_id, date)
);

CREATE INDEX IF NOT EXISTS idx_metrics_date ON agent_metrics(date);

-- Proposed or applied skill-file modifications
CREATE TABLE IF NOT EXISTS skill_updates (
    id TEXT PRIMARY KEY,
    skill_file TEXT NOT NULL,
    change_type TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL,
    applied_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_updates_status ON skill_updates(status);

-- Non-mutating recommendations awaiting external review
CREATE TABLE IF NOT EXISTS suggestions (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    suggestion TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions(status);

-- Append-only health event log, capped at the most recent 1000 rows
CREATE TABLE IF NOT EXISTS health_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    category TEXT NOT NULL,
    status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    metrics TEXT,
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_events_category ON health_events(category);
`
