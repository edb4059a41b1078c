// Package persistence records a run's event journal in SQLite. The journal is
// write-mostly: nothing in it is ever loaded back into a simulation.
package persistence

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/undercover/internal/state"
)

// Memory is the path that keeps the journal in memory for the process
// lifetime.
const Memory = ":memory:"

// Journal wraps a SQLite connection holding runs, their events and metadata.
type Journal struct {
	conn *sqlx.DB
}

// Open opens or creates a journal at path. Memory keeps it in memory.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != Memory && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A second connection to :memory: would be a different database.
	conn.SetMaxOpenConns(1)

	j := &Journal{conn: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		seed INTEGER NOT NULL,
		gangs INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		at INTEGER NOT NULL,
		category TEXT NOT NULL,
		gang_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_events_category ON events(run_id, category);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// Run is one simulation run's header row.
type Run struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Seed      int64
	Gangs     int
	Status    string
}

type runRow struct {
	ID        string `db:"id"`
	StartedAt int64  `db:"started_at"`
	EndedAt   *int64 `db:"ended_at"`
	Seed      int64  `db:"seed"`
	Gangs     int    `db:"gangs"`
	Status    string `db:"status"`
}

// BeginRun inserts the header row for a new run.
func (j *Journal) BeginRun(id string, seed int64, gangs int, at time.Time) error {
	_, err := j.conn.Exec(
		"INSERT INTO runs (id, started_at, seed, gangs, status) VALUES (?, ?, ?, ?, ?)",
		id, at.UnixNano(), seed, gangs, state.StatusRunning.String(),
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// EndRun stamps the final status on a run.
func (j *Journal) EndRun(id string, status state.Status, at time.Time) error {
	_, err := j.conn.Exec(
		"UPDATE runs SET ended_at = ?, status = ? WHERE id = ?",
		at.UnixNano(), status.String(), id,
	)
	return err
}

// GetRun loads a run header.
func (j *Journal) GetRun(id string) (Run, error) {
	var row runRow
	if err := j.conn.Get(&row, "SELECT id, started_at, ended_at, seed, gangs, status FROM runs WHERE id = ?", id); err != nil {
		return Run{}, err
	}
	r := Run{
		ID:        row.ID,
		StartedAt: time.Unix(0, row.StartedAt),
		Seed:      row.Seed,
		Gangs:     row.Gangs,
		Status:    row.Status,
	}
	if row.EndedAt != nil {
		r.EndedAt = time.Unix(0, *row.EndedAt)
	}
	return r, nil
}

// SaveEvents appends events for a run. Events already stored are skipped, so
// overlapping flushes are harmless. It returns the number of new rows.
func (j *Journal) SaveEvents(runID string, events []state.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := j.conn.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO events
		(run_id, seq, at, category, gang_id, description)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	saved := 0
	for _, e := range events {
		res, err := stmt.Exec(runID, e.Seq, e.Time.UnixNano(), e.Category, e.GangID, e.Description)
		if err != nil {
			return 0, fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			saved += int(n)
		}
	}
	return saved, tx.Commit()
}

type eventRow struct {
	Seq         uint64 `db:"seq"`
	At          int64  `db:"at"`
	Category    string `db:"category"`
	GangID      int    `db:"gang_id"`
	Description string `db:"description"`
}

// RecentEvents returns the newest limit events of a run, newest first.
func (j *Journal) RecentEvents(runID string, limit int) ([]state.Event, error) {
	var rows []eventRow
	err := j.conn.Select(&rows,
		"SELECT seq, at, category, gang_id, description FROM events WHERE run_id = ? ORDER BY seq DESC LIMIT ?",
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	events := make([]state.Event, len(rows))
	for i, r := range rows {
		events[i] = state.Event{
			Seq:         r.Seq,
			Time:        time.Unix(0, r.At),
			Category:    r.Category,
			GangID:      r.GangID,
			Description: r.Description,
		}
	}
	return events, nil
}

// CountEvents returns how many events a run has, optionally in one category.
func (j *Journal) CountEvents(runID, category string) (int, error) {
	var n int
	var err error
	if category == "" {
		err = j.conn.Get(&n, "SELECT COUNT(*) FROM events WHERE run_id = ?", runID)
	} else {
		err = j.conn.Get(&n, "SELECT COUNT(*) FROM events WHERE run_id = ? AND category = ?", runID, category)
	}
	return n, err
}

// SaveMeta stores a key-value pair against a run.
func (j *Journal) SaveMeta(runID, key, value string) error {
	_, err := j.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (run_id, key, value) VALUES (?, ?, ?)",
		runID, key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (j *Journal) GetMeta(runID, key string) (string, error) {
	var value string
	err := j.conn.Get(&value, "SELECT value FROM run_meta WHERE run_id = ? AND key = ?", runID, key)
	return value, err
}
