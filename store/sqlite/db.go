// Package sqlite persists namespaces and membrane tree snapshots in SQLite.
package sqlite

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sbl8/p9ml/errors"
)

// Open opens a SQLite database at path with foreign keys on, a 5s busy
// timeout and WAL journaling. ":memory:" databases are limited to one
// connection so every query sees the same data. logger may be nil.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	if logger != nil {
		logger.Infow("Database opened", "path", path, "wal_mode", true, "foreign_keys", true)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS namespaces (
	name TEXT PRIMARY KEY,
	noise_scale REAL NOT NULL,
	target_bits INTEGER NOT NULL,
	mixed_precision INTEGER NOT NULL,
	total_params INTEGER NOT NULL DEFAULT 0,
	quantized_params INTEGER NOT NULL DEFAULT 0,
	compression_ratio REAL NOT NULL DEFAULT 1.0,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	namespace TEXT,
	membranes INTEGER NOT NULL,
	tensors INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS membranes (
	snapshot_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	parent_id TEXT,
	name TEXT NOT NULL,
	level INTEGER NOT NULL,
	max_children INTEGER NOT NULL,
	max_objects INTEGER NOT NULL,
	max_rules INTEGER NOT NULL,
	rules JSON,
	qat JSON,
	PRIMARY KEY (snapshot_id, seq),
	FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tensors (
	snapshot_id TEXT NOT NULL,
	membrane_seq INTEGER NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (snapshot_id, membrane_seq, position),
	FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_membranes_snapshot ON membranes(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_tensors_snapshot ON tensors(snapshot_id);
`

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
