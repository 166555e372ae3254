// Package dedupe collapses byte-identical tile payloads into a shared
// blob store. Tile pyramids repeat content heavily (solid ocean tiles
// across thousands of coordinates); after this pass each distinct payload
// is stored once in images and every coordinate keeps exactly one map row
// pointing at it, with tiles rebuilt as a view over the join.
package dedupe

import (
	"bytes"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"

	"github.com/tilevault/tilevault/internal/mbtiles"
)

// Stats counts the outcome of one deduplication run.
type Stats struct {
	// Total is the number of tile rows processed.
	Total int
	// Unique is the number of distinct payloads stored in images.
	Unique int
	// Overlapping is the number of tiles that matched an already-stored
	// payload and only received a map row.
	Overlapping int
}

// candidate is one stored payload under a fingerprint bucket. Buckets are
// slices so a fingerprint collision degrades to an exact-byte scan rather
// than a false merge.
type candidate struct {
	id      int64
	payload []byte
}

// Engine holds the state of a single deduplication run: the fingerprint
// index of payloads seen so far and the monotonically increasing surrogate
// id counter. Ids are process-lifetime unique and never reused. An Engine
// is single-use; create a fresh one per run.
//
// Memory grows with the number of distinct payloads retained for exact
// comparison, which is the point of deduplication being worthwhile:
// pyramids with high redundancy keep the index small.
type Engine struct {
	chunk  int
	logger *slog.Logger
	index  map[[32]byte][]candidate
	nextID int64
	stats  Stats
}

// New creates an engine with the given transaction batch size.
func New(chunk int, logger *slog.Logger) *Engine {
	if chunk <= 0 {
		chunk = 256
	}
	return &Engine{
		chunk:  chunk,
		logger: logger,
		index:  make(map[[32]byte][]candidate),
	}
}

// Run deduplicates a raw container in place: creates the map/images
// tables, processes every tile row in rowid order, then finalizes by
// replacing the tiles table with a view over the join. The container is
// in Deduplicated form afterwards; there is no path back except export.
func (e *Engine) Run(c *mbtiles.Container) (Stats, error) {
	if c.Form() != mbtiles.FormRaw {
		return Stats{}, fmt.Errorf("container %s is already deduplicated", c.Path())
	}
	if err := e.prepare(c.DB()); err != nil {
		return Stats{}, err
	}
	if err := e.process(c.DB()); err != nil {
		return Stats{}, err
	}
	if err := e.finalize(c); err != nil {
		return Stats{}, err
	}
	return e.stats, nil
}

func (e *Engine) prepare(db *sql.DB) error {
	e.logger.Debug("preparing deduplication tables")
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (tile_data blob, tile_id integer)`,
		`CREATE TABLE IF NOT EXISTS map (
			zoom_level integer,
			tile_column integer,
			tile_row integer,
			tile_id integer
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create dedup tables: %w", err)
		}
	}
	return nil
}

// tileRow is one fetched tile, buffered so the read cursor can be closed
// before the batch transaction opens (the run holds a single connection).
type tileRow struct {
	zoom, column, row int
	data              []byte
}

// process walks the tiles table in fixed-size rowid windows. Rowid order
// gives a sequential scan of the freshly imported table; the logical
// (zoom, column, row) order is irrelevant to dedup correctness.
func (e *Engine) process(db *sql.DB) error {
	var total int
	if err := db.QueryRow(`SELECT count(zoom_level) FROM tiles`).Scan(&total); err != nil {
		return fmt.Errorf("count tiles: %w", err)
	}
	e.logger.Debug("deduplicating tiles", "total", total, "chunk", e.chunk)

	for low := 0; low < total; low += e.chunk {
		batch, err := e.fetchBatch(db, low, low+e.chunk)
		if err != nil {
			return err
		}
		if err := e.writeBatch(db, batch); err != nil {
			return err
		}
		e.logger.Debug("dedup progress", "processed", e.stats.Total,
			"unique", e.stats.Unique, "overlapping", e.stats.Overlapping)
	}
	return nil
}

func (e *Engine) fetchBatch(db *sql.DB, low, high int) ([]tileRow, error) {
	rows, err := db.Query(
		`SELECT zoom_level, tile_column, tile_row, tile_data
		 FROM tiles WHERE rowid > ? AND rowid <= ?`, low, high)
	if err != nil {
		return nil, fmt.Errorf("fetch tile batch: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var batch []tileRow
	for rows.Next() {
		var t tileRow
		if err := rows.Scan(&t.zoom, &t.column, &t.row, &t.data); err != nil {
			return nil, fmt.Errorf("scan tile row: %w", err)
		}
		batch = append(batch, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tile batch: %w", err)
	}
	return batch, nil
}

// writeBatch commits one batch of map/images inserts as one transaction.
func (e *Engine) writeBatch(db *sql.DB, batch []tileRow) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin dedup batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // safe to ignore

	mapStmt, err := tx.Prepare(
		`INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare map insert: %w", err)
	}
	defer func() { _ = mapStmt.Close() }() // safe to ignore

	imageStmt, err := tx.Prepare(
		`INSERT INTO images (tile_id, tile_data) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare images insert: %w", err)
	}
	defer func() { _ = imageStmt.Close() }() // safe to ignore

	for _, t := range batch {
		e.stats.Total++
		id, seen := e.lookup(t.data)
		if !seen {
			e.nextID++
			id = e.nextID
			e.remember(t.data, id)
			if _, err := imageStmt.Exec(id, t.data); err != nil {
				return fmt.Errorf("insert image %d: %w", id, err)
			}
			e.stats.Unique++
		} else {
			e.stats.Overlapping++
		}
		if _, err := mapStmt.Exec(t.zoom, t.column, t.row, id); err != nil {
			return fmt.Errorf("insert map %d/%d/%d: %w", t.zoom, t.column, t.row, err)
		}
	}
	return tx.Commit()
}

// lookup finds the surrogate id of a previously-seen payload. The blake3
// fingerprint narrows the search; equality is always confirmed byte for
// byte, so a colliding fingerprint can never merge distinct payloads.
func (e *Engine) lookup(data []byte) (int64, bool) {
	sum := blake3.Sum256(data)
	for _, cand := range e.index[sum] {
		if bytes.Equal(cand.payload, data) {
			return cand.id, true
		}
	}
	return 0, false
}

func (e *Engine) remember(data []byte, id int64) {
	sum := blake3.Sum256(data)
	e.index[sum] = append(e.index[sum], candidate{id: id, payload: data})
}

// finalize swaps the raw tiles table for a view over map JOIN images and
// builds the unique indexes other MBTiles readers expect. VACUUM must run
// in autocommit; every Exec here is outside a transaction, which
// satisfies that.
func (e *Engine) finalize(c *mbtiles.Container) error {
	e.logger.Debug("finalizing deduplication")
	stmts := []string{
		`DROP TABLE tiles`,
		`CREATE VIEW tiles AS
			SELECT map.zoom_level AS zoom_level,
				map.tile_column AS tile_column,
				map.tile_row AS tile_row,
				images.tile_data AS tile_data
			FROM map JOIN images ON images.tile_id = map.tile_id`,
		`CREATE UNIQUE INDEX map_index ON map (zoom_level, tile_column, tile_row)`,
		`CREATE UNIQUE INDEX images_id ON images (tile_id)`,
		`VACUUM`,
		`ANALYZE`,
	}
	for _, stmt := range stmts {
		if _, err := c.DB().Exec(stmt); err != nil {
			return fmt.Errorf("finalize dedup: %w", err)
		}
	}
	c.MarkDeduplicated()
	return nil
}
