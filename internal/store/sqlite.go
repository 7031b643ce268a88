package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteBackend keeps every namespace in a single database file, for
// embedders who prefer one artifact over a directory tree. Same
// Namespace semantics as the disk backend; the identity column takes
// the place of the per-identity directory.
type sqliteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS namespaces (
	identity   TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	last_write INTEGER NOT NULL
);
`

func openSQLite(path string) (*sqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteBackend{db: db}, nil
}

func (s *sqliteBackend) load(identity string) (map[string]json.RawMessage, error) {
	if s.db == nil {
		return nil, errClosed
	}
	var blob []byte
	err := s.db.QueryRow(`SELECT data FROM namespaces WHERE identity = ?`, identity).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *sqliteBackend) save(identity string, data map[string]json.RawMessage, lastWrite time.Time) error {
	if s.db == nil {
		return errClosed
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO namespaces(identity, data, last_write) VALUES(?,?,?)
		 ON CONFLICT(identity) DO UPDATE SET data=excluded.data, last_write=excluded.last_write`,
		identity, blob, lastWrite.UnixMilli(),
	)
	return err
}

func (s *sqliteBackend) remove(identity string) error {
	if s.db == nil {
		return errClosed
	}
	_, err := s.db.Exec(`DELETE FROM namespaces WHERE identity = ?`, identity)
	return err
}

func (s *sqliteBackend) list() ([]Entry, error) {
	if s.db == nil {
		return nil, errClosed
	}
	rows, err := s.db.Query(`SELECT identity, LENGTH(data), last_write FROM namespaces ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.Identity, &e.Bytes, &ms); err != nil {
			return nil, err
		}
		e.LastWrite = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
