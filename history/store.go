// Package history keeps a ledger of generation runs in a local SQLite
// database. Each completed or failed Generate call becomes one row,
// carrying the prompt digest rather than the prompt text. The ledger
// is append-mostly: the session records runs through an AsyncRecorder
// and the CLI reads them back with RecentRuns.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"

	"sdhost/session"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// busyTimeoutMS is how long a connection waits on a locked database.
const busyTimeoutMS = 5000

// Run is one row of the runs table.
type Run struct {
	ID           int64
	SessionID    string
	ModelID      string
	PromptDigest string
	Seed         int64
	Steps        int
	CacheHit     bool
	Duration     time.Duration
	Err          string
	CreatedAt    time.Time
}

// Store owns the SQLite connection for the run ledger. SQLite handles
// concurrency best with a single writer, so the pool is pinned to one
// connection and WAL mode keeps readers unblocked.
type Store struct {
	db *sql.DB
}

// Open migrates the schema and returns a ready Store. Migrations run
// on a throwaway connection because the migrator closes whatever
// connection it is handed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: database path is required")
	}

	if err := migrateUp(path); err != nil {
		return nil, err
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// openSQLite opens a WAL-mode connection with a single-writer pool.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	return db, nil
}

// migrateUp applies pending migrations from the embedded directory.
// ErrNoChange is not an error.
func migrateUp(path string) error {
	db, err := openSQLite(path)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("history: load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: "main"})
	if err != nil {
		db.Close()
		return fmt.Errorf("history: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("history: create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history: apply migrations: %w", err)
	}
	return nil
}

// Insert writes one run synchronously and returns its row ID.
func (s *Store) Insert(rec session.GenerationRecord) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history: store is not open")
	}

	const query = `
		INSERT INTO runs (
			session_id, model_id, prompt_digest, seed, steps,
			cache_hit, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.Exec(query,
		rec.SessionID,
		rec.ModelID,
		rec.PromptDigest,
		rec.Seed,
		rec.Steps,
		boolToInt(rec.CacheHit),
		rec.Duration.Milliseconds(),
		rec.Err,
	)
	if err != nil {
		return 0, fmt.Errorf("history: insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: last insert id: %w", err)
	}
	return id, nil
}

// RecentRuns returns the latest n runs, newest first.
func (s *Store) RecentRuns(n int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history: store is not open")
	}
	if n <= 0 {
		return nil, nil
	}

	const query = `
		SELECT id, session_id, model_id, prompt_digest, seed, steps,
		       cache_hit, duration_ms, error, created_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?`

	rows, err := s.db.Query(query, n)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			cacheHit   int
			durationMS int64
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.ModelID, &r.PromptDigest,
			&r.Seed, &r.Steps, &cacheHit, &durationMS,
			&r.Err, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.CacheHit = cacheHit != 0
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return runs, nil
}

// Count returns the total number of recorded runs.
func (s *Store) Count() (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history: store is not open")
	}
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count runs: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
