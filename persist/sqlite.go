package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	name     TEXT PRIMARY KEY,
	taken_at TEXT NOT NULL,
	data     TEXT NOT NULL
);
`

// SQLiteAdapter stores checkpoints as JSON blobs in a single SQLite file.
// Suits deployments that want one state artifact instead of a directory.
type SQLiteAdapter struct {
	db *sql.DB
}

var _ Adapter = (*SQLiteAdapter)(nil)

// NewSQLiteAdapter opens (or creates) the database and bootstraps the
// schema. WAL mode keeps periodic auto-saves from blocking reads.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: set WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: bootstrap schema: %w", err)
	}
	return &SQLiteAdapter{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteAdapter) Close() error { return s.db.Close() }

func (s *SQLiteAdapter) Save(ctx context.Context, name string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (name, taken_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET taken_at=excluded.taken_at, data=excluded.data`,
		name, snap.TakenAt.UTC().Format("2006-01-02T15:04:05.000Z"), string(data))
	if err != nil {
		return fmt.Errorf("persist: save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteAdapter) Load(ctx context.Context, name string) (Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("persist: load checkpoint: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("persist: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteAdapter) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM checkpoints ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("persist: list checkpoints: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("persist: scan checkpoint name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: list checkpoints: %w", err)
	}
	return names, nil
}

func (s *SQLiteAdapter) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE name = ?`, name); err != nil {
		return fmt.Errorf("persist: delete checkpoint: %w", err)
	}
	return nil
}
