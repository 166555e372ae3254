// Package tiles holds the coordinate arithmetic shared by the importer and
// exporter: the XYZ↔TMS row flip and the legacy WMS directory layout.
//
// Two addressing conventions exist for the same pyramid: XYZ counts rows
// from the top (north), TMS from the bottom (south). At a given zoom the
// two are mirror images, so one involution converts both ways. The WMS
// layout predates both and spreads column/row across base-1000 digit
// groups to keep directory fan-out bounded; it never flips.
package tiles

import (
	"fmt"
	"path/filepath"
)

// Addressing schemes accepted by the conversion engine.
const (
	SchemeXYZ = "xyz"
	SchemeTMS = "tms"
	SchemeWMS = "wms"
)

// Tile payload formats commonly found in the wild.
const (
	PNG  = "png"
	JPG  = "jpg"
	PBF  = "pbf"
	WEBP = "webp"
)

// FlipRow converts a row index between XYZ and TMS addressing at the given
// zoom. The transform is its own inverse: FlipRow(z, FlipRow(z, row)) == row.
func FlipRow(zoom, row int) int {
	return (1 << uint(zoom)) - 1 - row
}

// WMSTileDir returns the six-level WMS directory for a tile: a two-digit
// zoom segment, three base-1000 digit groups for the column, and the two
// high digit groups for the row. The low row group is the filename,
// produced by WMSTileName.
func WMSTileDir(base string, zoom, column, row int) string {
	return filepath.Join(base,
		fmt.Sprintf("%02d", zoom),
		fmt.Sprintf("%03d", column/1000000),
		fmt.Sprintf("%03d", (column/1000)%1000),
		fmt.Sprintf("%03d", column%1000),
		fmt.Sprintf("%03d", row/1000000),
		fmt.Sprintf("%03d", (row/1000)%1000),
	)
}

// WMSTileName returns the WMS filename segment: the low base-1000 digit
// group of the row plus the payload format extension.
func WMSTileName(row int, format string) string {
	return fmt.Sprintf("%03d.%s", row%1000, format)
}
