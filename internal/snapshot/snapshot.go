// Package snapshot persists the full catalog table to a local SQLite file.
// A snapshot is a single full overwrite, not an incremental journal, so the
// file always holds exactly one consistent view of the scene, taken at
// shutdown or on demand.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/jmcewan/superscene/internal/catalog"
	"github.com/jmcewan/superscene/internal/geom"
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS run_meta (
    run_id     TEXT NOT NULL,
    written_at TIMESTAMP NOT NULL,
    n_sources  INTEGER NOT NULL,
    columns    TEXT NOT NULL,
    origin_ra  REAL NOT NULL,
    origin_dec REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
    idx       INTEGER PRIMARY KEY,
    ra        REAL NOT NULL,
    dec       REAL NOT NULL,
    x         REAL NOT NULL,
    y         REAL NOT NULL,
    rhalf     REAL NOT NULL,
    pa        REAL NOT NULL,
    params    TEXT NOT NULL,
    is_active BOOLEAN NOT NULL,
    is_valid  BOOLEAN NOT NULL,
    n_iter    INTEGER NOT NULL,
    n_patch   INTEGER NOT NULL
);
`

// Meta describes the run a snapshot was written by. Origin is the scene
// origin of the stored planar coordinates, so a table rebuilt from the
// snapshot lives in the same frame.
type Meta struct {
	RunID     string
	WrittenAt time.Time
	NSources  int
	Columns   []string
	Origin    geom.SkyCoord
}

// Store is a snapshot database handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a snapshot database at path, enables WAL mode and
// a busy timeout, and creates the schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open database: %w", err)
	}

	// One connection: SQLite has a single writer, and a pool of
	// connections each needing PRAGMA setup only invites SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	return nil
}

// Write replaces the entire stored state with the current contents of tbl,
// in one transaction.
func (s *Store) Write(ctx context.Context, runID string, tbl *catalog.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"run_meta", "sources"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("snapshot: clear %s: %w", table, err)
		}
	}

	origin := tbl.Origin()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO run_meta (run_id, written_at, n_sources, columns, origin_ra, origin_dec) VALUES (?, ?, ?, ?, ?, ?)",
		runID, time.Now().UTC(), tbl.Len(), strings.Join(tbl.Columns(), ","), origin.RA, origin.Dec)
	if err != nil {
		return fmt.Errorf("snapshot: write meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sources (idx, ra, dec, x, y, rhalf, pa, params, is_active, is_valid, n_iter, n_patch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range tbl.Snapshot() {
		params, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("snapshot: encode params for source %d: %w", e.Index, err)
		}
		_, err = stmt.ExecContext(ctx, e.Index, e.RA, e.Dec, e.X, e.Y, e.Rhalf, e.PA,
			string(params), e.IsActive, e.IsValid, e.NIter, e.NPatch)
		if err != nil {
			return fmt.Errorf("snapshot: write source %d: %w", e.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

// Load reads the stored state back: run metadata plus every source row in
// index order.
func (s *Store) Load(ctx context.Context) (Meta, []catalog.Entry, error) {
	var meta Meta
	var cols string
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id, written_at, n_sources, columns, origin_ra, origin_dec FROM run_meta").
		Scan(&meta.RunID, &meta.WrittenAt, &meta.NSources, &cols,
			&meta.Origin.RA, &meta.Origin.Dec)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("snapshot: read meta: %w", err)
	}
	meta.Columns = strings.Split(cols, ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, ra, dec, x, y, rhalf, pa, params, is_active, is_valid, n_iter, n_patch
		FROM sources ORDER BY idx`)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("snapshot: read sources: %w", err)
	}
	defer rows.Close()

	var entries []catalog.Entry
	for rows.Next() {
		var e catalog.Entry
		var params string
		err := rows.Scan(&e.Index, &e.RA, &e.Dec, &e.X, &e.Y, &e.Rhalf, &e.PA,
			&params, &e.IsActive, &e.IsValid, &e.NIter, &e.NPatch)
		if err != nil {
			return Meta{}, nil, fmt.Errorf("snapshot: scan source: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			return Meta{}, nil, fmt.Errorf("snapshot: decode params for source %d: %w", e.Index, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Meta{}, nil, fmt.Errorf("snapshot: iterate sources: %w", err)
	}
	return meta, entries, nil
}
