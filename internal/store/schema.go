package store

import "database/sql"

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS upload_tasks (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	inspection_id TEXT NOT NULL,
	section_key TEXT NOT NULL,
	local_path TEXT NOT NULL,
	media_type TEXT NOT NULL,
	remark TEXT NOT NULL DEFAULT '',

	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	progress INTEGER NOT NULL DEFAULT 0,
	uploaded INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,

	UNIQUE(inspection_id, section_key)
);
`,
		`CREATE INDEX IF NOT EXISTS idx_upload_tasks_seq ON upload_tasks(seq);`,
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}

	return nil
}
