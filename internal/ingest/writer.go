package ingest

import (
	"database/sql"
	"fmt"

	"github.com/tilevault/tilevault/internal/mbtiles"
)

// tileWriter batches tile inserts into transactions of chunk rows through
// a prepared statement, reopening a fresh transaction after each commit.
// A crash mid-batch loses at most the uncommitted batch.
type tileWriter struct {
	db    *sql.DB
	tx    *sql.Tx
	stmt  *sql.Stmt
	chunk int
	count int
	total int
}

func newTileWriter(c *mbtiles.Container, chunk int) (*tileWriter, error) {
	w := &tileWriter{db: c.DB(), chunk: chunk}
	if err := w.begin(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *tileWriter) begin() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tile batch: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback() // ignore error
		return fmt.Errorf("prepare tile insert: %w", err)
	}
	w.tx, w.stmt = tx, stmt
	return nil
}

func (w *tileWriter) commit() error {
	_ = w.stmt.Close() // ignore error
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit tile batch: %w", err)
	}
	w.tx, w.stmt = nil, nil
	return nil
}

// insert queues one tile. A duplicate (zoom, column, row) violates the
// unique index and is returned as a hard error: the engine defines no
// overwrite semantics, so the run must abort.
func (w *tileWriter) insert(zoom, column, row int, data []byte) error {
	if _, err := w.stmt.Exec(zoom, column, row, data); err != nil {
		return fmt.Errorf("insert tile %d/%d/%d: %w", zoom, column, row, err)
	}
	w.count++
	w.total++
	if w.count >= w.chunk {
		if err := w.commit(); err != nil {
			return err
		}
		if err := w.begin(); err != nil {
			return err
		}
		w.count = 0
	}
	return nil
}

// close commits the final partial batch.
func (w *tileWriter) close() error {
	if w.tx == nil {
		return nil
	}
	return w.commit()
}

// abort rolls back the open batch after a walk error.
func (w *tileWriter) abort() error {
	if w.tx == nil {
		return nil
	}
	_ = w.stmt.Close() // ignore error
	err := w.tx.Rollback()
	w.tx, w.stmt = nil, nil
	return err
}
