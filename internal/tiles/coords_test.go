package tiles

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlipRow(t *testing.T) {
	assert.Equal(t, 0, FlipRow(0, 0))
	assert.Equal(t, 2, FlipRow(2, 1))
	assert.Equal(t, 0, FlipRow(2, 3))
	assert.Equal(t, 255, FlipRow(8, 0))
}

func TestFlipRow_Involution(t *testing.T) {
	for zoom := 0; zoom <= 12; zoom++ {
		max := 1 << uint(zoom)
		for row := 0; row < max; row += 1 + max/64 {
			assert.Equal(t, row, FlipRow(zoom, FlipRow(zoom, row)),
				"zoom=%d row=%d", zoom, row)
		}
	}
}

func TestWMSTileDir(t *testing.T) {
	dir := WMSTileDir("out", 5, 1234567, 7654321)
	want := filepath.Join("out", "05", "001", "234", "567", "007", "654")
	assert.Equal(t, want, dir)

	// Small coordinates pad to three digits at every level.
	dir = WMSTileDir("out", 0, 0, 0)
	want = filepath.Join("out", "00", "000", "000", "000", "000", "000")
	assert.Equal(t, want, dir)
}

func TestWMSTileName(t *testing.T) {
	assert.Equal(t, "321.png", WMSTileName(7654321, PNG))
	assert.Equal(t, "007.jpg", WMSTileName(7, JPG))
}
