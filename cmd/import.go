package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tilevault/tilevault/internal/ingest"
	"github.com/tilevault/tilevault/internal/mbtiles"
	"github.com/tilevault/tilevault/internal/tiles"
)

var importOpts ingest.Options

var importCmd = &cobra.Command{
	Use:   "import [tree] [output.mbtiles]",
	Short: "Load a tile directory tree into an MBTiles container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingest.Import(args[0], args[1], importOpts, newLogger())
	},
}

func init() {
	importCmd.Flags().StringVar(&importOpts.Format, "format", mbtiles.DefaultFormat,
		"Tile file extension (overridden by metadata.json)")
	importCmd.Flags().StringVar(&importOpts.Scheme, "scheme", tiles.SchemeXYZ,
		"Source addressing scheme: xyz, tms or wms")
	importCmd.Flags().BoolVar(&importOpts.Compression, "compression", false,
		"Deduplicate identical tiles into a shared blob store")
	importCmd.Flags().IntVar(&importOpts.Chunk, "chunk", ingest.DefaultChunk,
		"Rows per transaction during bulk load")
	rootCmd.AddCommand(importCmd)
}
