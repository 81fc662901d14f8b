package sqlite

import "github.com/steveyegge/scout/internal/storage/migrations"

var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "digests keyed by (date, period, source_type)",
		Up: `
CREATE TABLE IF NOT EXISTS digests (
    id TEXT PRIMARY KEY,
    date TEXT NOT NULL,
    period TEXT NOT NULL,
    source_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (date, period, source_type)
);

CREATE INDEX IF NOT EXISTS idx_digests_source_date ON digests(source_type, date DESC);
`,
	},
	{
		Version:     2,
		Description: "run history",
		Up: `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    date TEXT NOT NULL,
    period TEXT NOT NULL,
    source_type TEXT NOT NULL,
    status TEXT NOT NULL,
    record TEXT NOT NULL,
    started_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_kind_status ON runs(kind, status);
`,
	},
}
