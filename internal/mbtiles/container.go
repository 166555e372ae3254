// Package mbtiles manages the SQLite container side of a conversion run:
// schema creation, bulk-load pragmas, the post-run optimize pass, and the
// flat key-value metadata table.
//
// The schema is the externally standardized MBTiles layout and must be
// reproduced byte-for-byte in spirit: other readers of the same file rely
// on these exact table and index names.
package mbtiles

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Form describes the on-disk shape of the tiles relation. A container
// starts Raw (tiles is a plain table) and the deduplication engine flips
// it to Deduplicated (tiles is a view over map JOIN images). The
// transition is one-way; there is no supported path back except export.
type Form int

const (
	FormRaw Form = iota
	FormDeduplicated
)

func (f Form) String() string {
	if f == FormDeduplicated {
		return "deduplicated"
	}
	return "raw"
}

// Container is an open MBTiles file. A container is single-writer for the
// lifetime of one import or export run; nothing here is safe for use by
// multiple processes against the same file.
type Container struct {
	db   *sql.DB
	path string
	form Form
}

const schema = `
CREATE TABLE tiles (
	zoom_level integer,
	tile_column integer,
	tile_row integer,
	tile_data blob
);
CREATE TABLE metadata (name text, value text);
CREATE TABLE grids (
	zoom_level integer,
	tile_column integer,
	tile_row integer,
	grid blob
);
CREATE TABLE grid_data (
	zoom_level integer,
	tile_column integer,
	tile_row integer,
	key_name text,
	key_json text
);
CREATE UNIQUE INDEX name ON metadata (name);
CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row);
`

// Create opens (or creates) the container file and lays down the standard
// MBTiles schema. Every subsequent operation of a run depends on this
// succeeding, so callers treat a failure here as fatal for the run.
func Create(path string) (*Container, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	// One connection for the whole run: session pragmas (locking mode,
	// journal mode) are per-connection in SQLite, and the importer's
	// batched transactions assume a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("create mbtiles schema: %w", err)
	}

	return &Container{db: db, path: path, form: FormRaw}, nil
}

// Open opens an existing container for reading and detects which form the
// tiles relation is in (table = raw, view = deduplicated).
func Open(path string) (*Container, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}

	form := FormRaw
	var kind string
	err = db.QueryRow(`SELECT type FROM sqlite_master WHERE name = 'tiles'`).Scan(&kind)
	if err != nil && err != sql.ErrNoRows {
		_ = db.Close() // ignore error
		return nil, fmt.Errorf("inspect mbtiles %s: %w", path, err)
	}
	if kind == "view" {
		form = FormDeduplicated
	}

	return &Container{db: db, path: path, form: form}, nil
}

// DB exposes the underlying connection pool for the importer, exporter,
// and deduplication engine.
func (c *Container) DB() *sql.DB {
	return c.db
}

// Path returns the container file path.
func (c *Container) Path() string {
	return c.path
}

// Form reports whether the tiles relation is the raw table or the
// deduplicated view.
func (c *Container) Form() Form {
	return c.form
}

// MarkDeduplicated records the one-way Raw → Deduplicated transition.
// Called by the deduplication engine after it has replaced the tiles
// table with the map/images view.
func (c *Container) MarkDeduplicated() {
	c.form = FormDeduplicated
}

// ApplyBulkPragmas trades crash-safety for bulk-load throughput: no fsync
// per write, an exclusive file lock for the rest of the session, and a
// plain delete journal instead of WAL. Import and export are single-pass
// batch jobs, so losing an unfinished run to a crash is acceptable.
// Never apply this to a container another process might be reading.
func (c *Container) ApplyBulkPragmas() error {
	for _, pragma := range []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA locking_mode = EXCLUSIVE",
		"PRAGMA journal_mode = DELETE",
	} {
		if _, err := c.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Optimize refreshes planner statistics and compacts the file:
// ANALYZE, VACUUM, ANALYZE again. VACUUM is rejected by SQLite inside a
// transaction; with database/sql every Exec outside an explicit Tx runs
// in autocommit, which is exactly the context VACUUM needs. Callers must
// not hold an open transaction on this container when calling Optimize.
func (c *Container) Optimize() error {
	for _, stmt := range []string{"ANALYZE", "VACUUM", "ANALYZE"} {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("%s mbtiles: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the container connection.
func (c *Container) Close() error {
	return c.db.Close()
}
