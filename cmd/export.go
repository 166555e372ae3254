package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tilevault/tilevault/internal/export"
	"github.com/tilevault/tilevault/internal/tiles"
)

var exportOpts export.Options

var exportCmd = &cobra.Command{
	Use:   "export [input.mbtiles] [tree]",
	Short: "Write an MBTiles container out as a tile directory tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return export.Export(args[0], args[1], exportOpts, newLogger())
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOpts.Scheme, "scheme", tiles.SchemeXYZ,
		"Output addressing scheme: xyz, tms or wms")
	exportCmd.Flags().StringVar(&exportOpts.Format, "format", tiles.PNG,
		"Filename extension for the wms layout")
	exportCmd.Flags().StringVar(&exportOpts.Callback, "callback", "grid",
		"JSONP callback name for grid files (use \"false\" for bare JSON)")
	rootCmd.AddCommand(exportCmd)
}
