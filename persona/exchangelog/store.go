// Package exchangelog keeps every inference prompt/response pair in SQLite so model
// behaviour can be inspected after the fact.
package exchangelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/theimaginaryfoundation/personascope/persona/provider"
)

// Store implements provider.Recorder.
type Store struct {
	db *sql.DB
}

var _ provider.Recorder = (*Store)(nil)

// Open creates the database file and its directory if needed.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("mkdir exchange log dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open exchange log: %w", err)
	}
	// One writer; the recorder is called from concurrent extractors.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate exchange log: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS llm_exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts_unix_nano INTEGER NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_llm_exchanges_ts ON llm_exchanges(ts_unix_nano);
	CREATE INDEX IF NOT EXISTS idx_llm_exchanges_name ON llm_exchanges(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Record(ctx context.Context, ex provider.Exchange) error {
	var errText sql.NullString
	if ex.Error != "" {
		errText = sql.NullString{String: ex.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_exchanges (ts_unix_nano, provider, model, name, prompt, response, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ex.Timestamp.UnixNano(), ex.Provider, ex.Model, ex.Name, ex.Prompt, ex.Response, errText, ex.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// Recent returns up to limit exchanges, newest first. An empty name matches all.
func (s *Store) Recent(ctx context.Context, name string, limit int) ([]provider.Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_unix_nano, provider, model, name, prompt, response, error, duration_ms
		FROM llm_exchanges
		WHERE (? = '' OR name = ?)
		ORDER BY ts_unix_nano DESC, id DESC
		LIMIT ?
	`, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []provider.Exchange
	for rows.Next() {
		var (
			ts      int64
			durMS   int64
			errText sql.NullString
			ex      provider.Exchange
		)
		if err := rows.Scan(&ts, &ex.Provider, &ex.Model, &ex.Name, &ex.Prompt, &ex.Response, &errText, &durMS); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.Timestamp = time.Unix(0, ts)
		ex.Duration = time.Duration(durMS) * time.Millisecond
		ex.Error = errText.String
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Prune deletes exchanges older than cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM llm_exchanges WHERE ts_unix_nano < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune exchanges: %w", err)
	}
	return res.RowsAffected()
}
