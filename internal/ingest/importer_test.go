package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilevault/tilevault/internal/mbtiles"
	"github.com/tilevault/tilevault/internal/tiles"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTree lays out a tile tree from a map of relative path → content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func openContainer(t *testing.T, path string) *mbtiles.Container {
	t.Helper()
	c, err := mbtiles.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func countRows(t *testing.T, c *mbtiles.Container, table string) int {
	t.Helper()
	var n int
	require.NoError(t, c.DB().QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func TestParseIndex(t *testing.T) {
	for name, want := range map[string]int{
		"3":     3,
		"z3":    3,
		"12abc": 12,
		"a1b2":  12,
	} {
		got, err := parseIndex(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := parseIndex("nodigits")
	assert.Error(t, err)
}

func TestImport_Basic(t *testing.T) {
	tree := t.TempDir()
	writeTree(t, tree, map[string]string{
		"metadata.json": `{"name": "demo", "format": "png"}`,
		"0/0/0.png":     "tile-0",
		"z1/0/0.png":    "tile-1", // decorated zoom dir parses as 1
		"1/1/1.png":     "tile-2",
	})
	dbPath := filepath.Join(t.TempDir(), "out.mbtiles")

	// Configured format is pbf; the metadata document's png wins.
	err := Import(tree, dbPath, Options{Format: tiles.PBF}, testLogger())
	require.NoError(t, err)

	c := openContainer(t, dbPath)
	assert.Equal(t, 3, countRows(t, c, "tiles"))
	assert.Equal(t, mbtiles.FormRaw, c.Form())

	meta, err := c.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "demo", "format": "png"}, meta)

	var data []byte
	err = c.DB().QueryRow(
		`SELECT tile_data FROM tiles WHERE zoom_level = 1 AND tile_column = 1 AND tile_row = 1`).
		Scan(&data)
	require.NoError(t, err)
	assert.Equal(t, "tile-2", string(data))
}

func TestImport_MissingMetadataIsNotFatal(t *testing.T) {
	tree := t.TempDir()
	writeTree(t, tree, map[string]string{"0/0/0.pbf": "tile"})
	dbPath := filepath.Join(t.TempDir(), "out.mbtiles")

	require.NoError(t, Import(tree, dbPath, Options{}, testLogger()))

	c := openContainer(t, dbPath)
	assert.Equal(t, 1, countRows(t, c, "tiles"))
	assert.Equal(t, 0, countRows(t, c, "metadata"))
}

func TestImport_SkipsWrongExtension(t *testing.T) {
	tree := t.TempDir()
	writeTree(t, tree, map[string]string{
		"0/0/0.pbf":  "keep",
		"0/0/1.png":  "skip",
		"0/0/2.PBF":  "skip", // extension match is case-sensitive
		"0/0/.3.pbf": "skip", // dotfile
	})
	dbPath := filepath.Join(t.TempDir(), "out.mbtiles")

	require.NoError(t, Import(tree, dbPath, Options{}, testLogger()))
	assert.Equal(t, 1, countRows(t, openContainer(t, dbPath), "tiles"))
}

func TestImport_TMSFlipsRows(t *testing.T) {
	tree := t.TempDir()
	writeTree(t, tree, map[string]string{"2/1/1.pbf": "tile"})
	dbPath := filepath.Join(t.TempDir(), "out.mbtiles")

	require.NoError(t, Import(tree, dbPath, Options{Scheme: tiles.SchemeTMS}, testLogger()))

	var row int
	c := openContainer(t, dbPath)
	err := c.DB().QueryRow(
		`SELECT tile_row FROM tiles WHERE zoom_level = 2 AND tile_column = 1`).Scan(&row)
	require.NoError(t, err)
	assert.Equal(t, 2, row, "tms row 1 at zoom 2 stores as flipped row 2")
}

func TestImport_DuplicateCoordinateAborts(t *testing.T) {
	tree := t.TempDir()
	// Both stems parse to row 0 after decoration stripping.
	writeTree(t, tree, map[string]string{
		"0/0/0.pbf":  "first",
		"0/0/r0.pbf": "second",
	})
	dbPath := filepath.Join(t.TempDir(), "out.mbtiles")

	err := Import(tree, dbPath, Options{}, testLogger())
	assert.Error(t, err, "duplicate (zoom, column, row) must abort the run")
}

func TestImport_SmallChunkBatches(t *testing.T) {
	tree := t.TempDir()
	files := make(map[string]string)
	for col := 0; col < 3; col++ {
		for row := 0; row < 4; row++ {
			files[fmt.Sprintf("4/%d/%d.pbf", col, row)] = fmt.Sprintf("tile-%d-%d", col, row)
		}
	}
	writeTree(t, tree, files)
	dbPath := filepath.Join(t.TempDir(), "out.mbtiles")

	// Chunk smaller than the tile count exercises the commit/reopen cycle.
	require.NoError(t, Import(tree, dbPath, Options{Chunk: 5}, testLogger()))
	assert.Equal(t, 12, countRows(t, openContainer(t, dbPath), "tiles"))
}

func TestImport_CompressionCollapsesIdenticalTiles(t *testing.T) {
	tree := t.TempDir()
	writeTree(t, tree, map[string]string{
		"0/0/0.pbf": "A",
		"0/0/1.pbf": "A", // byte-identical payload
	})
	dbPath := filepath.Join(t.TempDir(), "out.mbtiles")

	require.NoError(t, Import(tree, dbPath, Options{Compression: true}, testLogger()))

	c := openContainer(t, dbPath)
	assert.Equal(t, mbtiles.FormDeduplicated, c.Form())
	assert.Equal(t, 2, countRows(t, c, "map"))
	assert.Equal(t, 1, countRows(t, c, "images"))

	var distinctIDs int
	require.NoError(t, c.DB().QueryRow(`SELECT count(DISTINCT tile_id) FROM map`).Scan(&distinctIDs))
	assert.Equal(t, 1, distinctIDs, "both map rows reference the same blob")

	// The logical tiles view still serves both coordinates.
	assert.Equal(t, 2, countRows(t, c, "tiles"))
}
