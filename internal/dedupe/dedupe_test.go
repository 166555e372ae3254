package dedupe

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilevault/tilevault/internal/mbtiles"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type tile struct {
	zoom, column, row int
	data              string
}

func newPopulated(t *testing.T, ts []tile) *mbtiles.Container {
	t.Helper()
	c, err := mbtiles.Create(filepath.Join(t.TempDir(), "test.mbtiles"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	for _, tl := range ts {
		_, err := c.DB().Exec(
			`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
			tl.zoom, tl.column, tl.row, []byte(tl.data))
		require.NoError(t, err)
	}
	return c
}

func count(t *testing.T, c *mbtiles.Container, table string) int {
	t.Helper()
	var n int
	require.NoError(t, c.DB().QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func TestRun_CollapsesDuplicates(t *testing.T) {
	// 6 tiles, 3 distinct payloads, spread across zoom levels.
	c := newPopulated(t, []tile{
		{0, 0, 0, "ocean"},
		{1, 0, 0, "ocean"},
		{1, 0, 1, "land"},
		{1, 1, 0, "ocean"},
		{1, 1, 1, "coast"},
		{2, 3, 3, "land"},
	})

	stats, err := New(256, testLogger()).Run(c)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 6, Unique: 3, Overlapping: 3}, stats)
	assert.Equal(t, 3, count(t, c, "images"))
	assert.Equal(t, 6, count(t, c, "map"))
	assert.Equal(t, mbtiles.FormDeduplicated, c.Form())
}

func TestRun_ViewReproducesPayloads(t *testing.T) {
	original := []tile{
		{0, 0, 0, "ocean"},
		{1, 0, 0, "ocean"},
		{1, 1, 0, "land"},
	}
	c := newPopulated(t, original)

	_, err := New(2, testLogger()).Run(c) // chunk smaller than row count
	require.NoError(t, err)

	for _, tl := range original {
		var data []byte
		err := c.DB().QueryRow(
			`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
			tl.zoom, tl.column, tl.row).Scan(&data)
		require.NoError(t, err)
		assert.Equal(t, tl.data, string(data), "tile %d/%d/%d", tl.zoom, tl.column, tl.row)
	}
}

func TestRun_AllUniqueIsIdentityMapping(t *testing.T) {
	var ts []tile
	for i := 0; i < 10; i++ {
		ts = append(ts, tile{3, i, i, fmt.Sprintf("payload-%d", i)})
	}
	c := newPopulated(t, ts)

	stats, err := New(4, testLogger()).Run(c)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 10, Unique: 10, Overlapping: 0}, stats)
	assert.Equal(t, 10, count(t, c, "images"))
	assert.Equal(t, 10, count(t, c, "map"))
}

func TestRun_EveryMapRowResolves(t *testing.T) {
	c := newPopulated(t, []tile{
		{0, 0, 0, "a"},
		{1, 0, 0, "b"},
		{1, 1, 1, "a"},
	})
	_, err := New(256, testLogger()).Run(c)
	require.NoError(t, err)

	var dangling int
	require.NoError(t, c.DB().QueryRow(`
		SELECT count(*) FROM map
		LEFT JOIN images ON images.tile_id = map.tile_id
		WHERE images.tile_id IS NULL`).Scan(&dangling))
	assert.Zero(t, dangling, "every map row must reference a stored blob")
}

func TestRun_RefusesDeduplicatedContainer(t *testing.T) {
	c := newPopulated(t, []tile{{0, 0, 0, "a"}})
	_, err := New(256, testLogger()).Run(c)
	require.NoError(t, err)

	_, err = New(256, testLogger()).Run(c)
	assert.Error(t, err)
}
