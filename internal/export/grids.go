package export

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tilevault/tilevault/internal/mbtiles"
	"github.com/tilevault/tilevault/internal/tiles"
)

// callbackSentinels are the values treated as "no callback": the grid JSON
// is written bare instead of wrapped.
var callbackSentinels = map[string]bool{
	"":      true,
	"None":  true,
	"false": true,
	"null":  true,
}

// exportGrids streams UTFGrid documents out of the container. Containers
// without interactivity simply lack the grids table; that surfaces as a
// query error rather than being pre-checked, and is not a failure.
func exportGrids(c *mbtiles.Container, treeRoot string, opts Options, logger *slog.Logger) error {
	rows, err := c.DB().Query(`SELECT zoom_level, tile_column, tile_row, grid FROM grids`)
	if err != nil {
		if isMissingTable(err) {
			logger.Debug("no grids table, skipping grid export")
			return nil
		}
		return fmt.Errorf("query grids: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	count := 0
	for rows.Next() {
		var zoom, column, row int
		var blob []byte
		if err := rows.Scan(&zoom, &column, &row, &blob); err != nil {
			return fmt.Errorf("scan grid row: %w", err)
		}
		if err := writeGrid(c, treeRoot, opts, zoom, column, row, blob); err != nil {
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate grids: %w", err)
	}
	if count > 0 {
		logger.Info("grids exported", "count", count)
	}
	return nil
}

// writeGrid decompresses one grid document, merges its grid_data rows
// back into the data field keyed by key_name, and writes <row>.grid.json
// under the same path layout as the tiles.
func writeGrid(c *mbtiles.Container, treeRoot string, opts Options, zoom, column, row int, blob []byte) error {
	doc, err := decodeGrid(blob)
	if err != nil {
		return fmt.Errorf("decode grid %d/%d/%d: %w", zoom, column, row, err)
	}

	data, err := fetchGridData(c, zoom, column, row)
	if err != nil {
		return err
	}
	doc["data"] = data

	outRow := row
	if opts.Scheme == tiles.SchemeTMS {
		outRow = tiles.FlipRow(zoom, row)
	}
	dir := filepath.Join(treeRoot, strconv.Itoa(zoom), strconv.Itoa(column))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create grid dir %s: %w", dir, err)
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode grid %d/%d/%d: %w", zoom, column, row, err)
	}
	if !callbackSentinels[opts.Callback] {
		encoded = []byte(fmt.Sprintf("%s(%s);", opts.Callback, encoded))
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.grid.json", outRow))
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write grid %s: %w", path, err)
	}
	return nil
}

// decodeGrid zlib-decompresses and parses a stored grid document.
func decodeGrid(blob []byte) (map[string]any, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open zlib stream: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("decompress grid: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse grid json: %w", err)
	}
	return doc, nil
}

// fetchGridData gathers the keyed side-data rows for one grid, parsed
// from their stored JSON text.
func fetchGridData(c *mbtiles.Container, zoom, column, row int) (map[string]any, error) {
	rows, err := c.DB().Query(
		`SELECT key_name, key_json FROM grid_data
		 WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, zoom, column, row)
	if err != nil {
		return nil, fmt.Errorf("query grid_data %d/%d/%d: %w", zoom, column, row, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	data := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan grid_data row: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("parse grid_data %s: %w", name, err)
		}
		data[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grid_data: %w", err)
	}
	return data, nil
}

// isMissingTable matches SQLite's "no such table" error without a
// pre-flight schema check.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
