// Package export streams an MBTiles container back out as a tile
// directory tree, with companion metadata and UTFGrid files.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tilevault/tilevault/internal/mbtiles"
	"github.com/tilevault/tilevault/internal/tiles"
)

// Options configures an export run.
type Options struct {
	// Scheme is the addressing scheme of the output tree: xyz (default),
	// tms, or wms. tms flips rows back out of the container's XYZ order,
	// so a tms import followed by a tms export reproduces the tree.
	Scheme string
	// Format is the filename extension used for the wms layout only;
	// other schemes take the extension from container metadata.
	// Defaults to png.
	Format string
	// Callback, when set to anything but a sentinel empty value, wraps
	// exported grid JSON as callback(<json>);.
	Callback string
}

// Export writes the container at dbPath into a new directory tree at
// treeRoot. The destination must not already exist; the container is
// never modified.
func Export(dbPath, treeRoot string, opts Options, logger *slog.Logger) error {
	if opts.Format == "" {
		opts.Format = tiles.PNG
	}

	c, err := mbtiles.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }() // safe to ignore

	// Fail before any writes when the destination already exists.
	if err := os.Mkdir(treeRoot, 0o755); err != nil {
		return fmt.Errorf("create export root: %w", err)
	}

	logger.Info("exporting mbtiles", "source", dbPath, "dest", treeRoot,
		"scheme", opts.Scheme, "form", c.Form().String())

	meta, err := c.ReadMetadata()
	if err != nil {
		return err
	}
	if err := writeMetadataFiles(treeRoot, meta); err != nil {
		return err
	}

	format := meta[mbtiles.MetaFormat]
	if format == "" {
		format = mbtiles.DefaultFormat
	}
	logger.Info("tile format detected", "format", format)

	if err := exportTiles(c, treeRoot, format, opts, logger); err != nil {
		return err
	}
	return exportGrids(c, treeRoot, opts, logger)
}

// writeMetadataFiles dumps the metadata table as metadata.json and, when
// an interactivity formatter is declared, a companion layer.json.
func writeMetadataFiles(treeRoot string, meta map[string]string) error {
	doc, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(treeRoot, "metadata.json"), doc, 0o644); err != nil {
		return fmt.Errorf("write metadata.json: %w", err)
	}

	if formatter := meta[mbtiles.MetaFormatter]; formatter != "" {
		layer, err := json.Marshal(map[string]string{mbtiles.MetaFormatter: formatter})
		if err != nil {
			return fmt.Errorf("encode layer.json: %w", err)
		}
		if err := os.WriteFile(filepath.Join(treeRoot, "layer.json"), layer, 0o644); err != nil {
			return fmt.Errorf("write layer.json: %w", err)
		}
	}
	return nil
}

// tilePath resolves the output location for one tile under the configured
// scheme. The container stores XYZ rows, so tms output flips; wms uses
// the base-1000 digit layout and its own format; anything else is the
// plain z/x/row layout with the row untouched.
func tilePath(treeRoot, format string, opts Options, zoom, column, row int) (string, string) {
	switch opts.Scheme {
	case tiles.SchemeTMS:
		row = tiles.FlipRow(zoom, row)
	case tiles.SchemeWMS:
		return tiles.WMSTileDir(treeRoot, zoom, column, row), tiles.WMSTileName(row, opts.Format)
	}
	dir := filepath.Join(treeRoot, strconv.Itoa(zoom), strconv.Itoa(column))
	return dir, fmt.Sprintf("%d.%s", row, format)
}

func exportTiles(c *mbtiles.Container, treeRoot, format string, opts Options, logger *slog.Logger) error {
	rows, err := c.DB().Query(
		`SELECT zoom_level, tile_column, tile_row, tile_data
		 FROM tiles ORDER BY zoom_level ASC`)
	if err != nil {
		return fmt.Errorf("query tiles: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	count := 0
	start := time.Now()
	for rows.Next() {
		var zoom, column, row int
		var data []byte
		if err := rows.Scan(&zoom, &column, &row, &data); err != nil {
			return fmt.Errorf("scan tile row: %w", err)
		}

		dir, name := tilePath(treeRoot, format, opts, zoom, column, row)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create tile dir %s: %w", dir, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write tile %s: %w", filepath.Join(dir, name), err)
		}

		count++
		if count%1000 == 0 {
			elapsed := time.Since(start).Seconds()
			logger.Debug("export progress", "tiles", count,
				"rate", fmt.Sprintf("%.0f/s", float64(count)/elapsed))
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate tiles: %w", err)
	}
	logger.Info("tiles exported", "count", count)
	return nil
}
