// Package ingest walks a tile directory tree and loads it into an MBTiles
// container in batched transactions.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tilevault/tilevault/internal/dedupe"
	"github.com/tilevault/tilevault/internal/mbtiles"
	"github.com/tilevault/tilevault/internal/tiles"
)

// DefaultChunk is the number of tile inserts per transaction.
const DefaultChunk = 256

// Options configures an import run.
type Options struct {
	// Format is the expected tile file extension. A format declared in the
	// tree's metadata.json overrides it. Defaults to pbf.
	Format string
	// Scheme is the addressing scheme of the source tree: xyz (default),
	// tms, or wms. tms flips rows into XYZ order before storage;
	// unrecognized schemes are treated as xyz.
	Scheme string
	// Compression runs the deduplication engine after loading.
	Compression bool
	// Chunk is the transaction batch size. Defaults to DefaultChunk.
	Chunk int
}

// nonDigits strips name decoration: zoom and column directories and row
// filename stems may carry prefixes like "z3", which parse as 3.
var nonDigits = regexp.MustCompile(`\D+`)

// parseIndex parses a directory or file-stem name into its tile index,
// ignoring any non-digit decoration.
func parseIndex(name string) (int, error) {
	digits := nonDigits.ReplaceAllString(name, "")
	if digits == "" {
		return 0, fmt.Errorf("no digits in %q", name)
	}
	return strconv.Atoi(digits)
}

// Import loads the tile tree rooted at treeRoot into a new MBTiles
// container at dbPath. The source tree is never modified.
func Import(treeRoot, dbPath string, opts Options, logger *slog.Logger) error {
	if opts.Format == "" {
		opts.Format = mbtiles.DefaultFormat
	}
	if opts.Scheme == "" {
		opts.Scheme = tiles.SchemeXYZ
	}
	if opts.Chunk <= 0 {
		opts.Chunk = DefaultChunk
	}

	logger.Info("importing tile tree", "source", treeRoot, "dest", dbPath, "scheme", opts.Scheme)

	c, err := mbtiles.Create(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }() // safe to ignore

	if err := c.ApplyBulkPragmas(); err != nil {
		return err
	}

	format, err := loadTreeMetadata(c, treeRoot, opts.Format, logger)
	if err != nil {
		return err
	}

	w, err := newTileWriter(c, opts.Chunk)
	if err != nil {
		return err
	}

	if err := walkTree(treeRoot, format, opts.Scheme, w, logger); err != nil {
		_ = w.abort() // best-effort rollback of the open batch
		return err
	}
	if err := w.close(); err != nil {
		return err
	}
	logger.Info("tiles inserted", "count", w.total)

	if opts.Compression {
		engine := dedupe.New(opts.Chunk, logger)
		stats, err := engine.Run(c)
		if err != nil {
			return err
		}
		logger.Info("deduplication complete",
			"total", stats.Total, "unique", stats.Unique, "overlapping", stats.Overlapping)
	}

	if err := c.Optimize(); err != nil {
		return err
	}
	return c.Close()
}

// loadTreeMetadata reads <root>/metadata.json into the metadata table and
// returns the effective tile format. The document's own format key wins
// over the configured default. A missing document is not an error.
func loadTreeMetadata(c *mbtiles.Container, treeRoot, format string, logger *slog.Logger) (string, error) {
	raw, err := os.ReadFile(filepath.Join(treeRoot, "metadata.json"))
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("metadata.json not found, using defaults", "format", format)
		return format, nil
	}
	if err != nil {
		return "", fmt.Errorf("read metadata.json: %w", err)
	}

	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("parse metadata.json: %w", err)
	}
	for name, value := range meta {
		if err := c.SetMetadata(name, value); err != nil {
			return "", err
		}
	}
	logger.Info("metadata restored", "entries", len(meta))

	if f, ok := meta[mbtiles.MetaFormat]; ok && f != "" {
		format = f
	}
	return format, nil
}

// indexedDir is a directory entry paired with its parsed tile index.
type indexedDir struct {
	name  string
	index int
}

// listIndexedDirs returns the subdirectories of path that parse as tile
// indexes, sorted ascending by index. Non-parsing names are skipped with
// a warning.
func listIndexedDirs(path string, logger *slog.Logger) ([]indexedDir, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}

	var dirs []indexedDir
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		index, err := parseIndex(entry.Name())
		if err != nil {
			logger.Warn("skipping directory", "path", filepath.Join(path, entry.Name()), "reason", err)
			continue
		}
		dirs = append(dirs, indexedDir{name: entry.Name(), index: index})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].index < dirs[j].index })
	return dirs, nil
}

// walkTree enumerates <root>/<zoom>/<column>/<row>.<ext> and feeds every
// accepted tile to the writer. Rows are flipped for tms sources so the
// container always stores XYZ order.
func walkTree(treeRoot, format, scheme string, w *tileWriter, logger *slog.Logger) error {
	zoomDirs, err := listIndexedDirs(treeRoot, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	for _, zoomDir := range zoomDirs {
		zoom := zoomDir.index
		zoomPath := filepath.Join(treeRoot, zoomDir.name)

		columnDirs, err := listIndexedDirs(zoomPath, logger)
		if err != nil {
			return err
		}
		for _, columnDir := range columnDirs {
			columnPath := filepath.Join(zoomPath, columnDir.name)
			files, err := os.ReadDir(columnPath)
			if err != nil {
				return fmt.Errorf("read dir %s: %w", columnPath, err)
			}

			for _, file := range files {
				if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
					continue
				}
				ext := strings.TrimPrefix(filepath.Ext(file.Name()), ".")
				if ext != format {
					logger.Warn("skipping tile file",
						"path", filepath.Join(columnPath, file.Name()), "want", format, "got", ext)
					continue
				}
				stem := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
				row, err := parseIndex(stem)
				if err != nil {
					logger.Warn("skipping tile file",
						"path", filepath.Join(columnPath, file.Name()), "reason", err)
					continue
				}

				data, err := os.ReadFile(filepath.Join(columnPath, file.Name()))
				if err != nil {
					return fmt.Errorf("read tile %s: %w", filepath.Join(columnPath, file.Name()), err)
				}

				if scheme == tiles.SchemeTMS {
					row = tiles.FlipRow(zoom, row)
				}
				if err := w.insert(zoom, columnDir.index, row, data); err != nil {
					return err
				}
				if w.total%1000 == 0 {
					elapsed := time.Since(start).Seconds()
					logger.Debug("import progress", "tiles", w.total,
						"rate", fmt.Sprintf("%.0f/s", float64(w.total)/elapsed))
				}
			}
		}
	}
	return nil
}
