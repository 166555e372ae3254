package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tilevault/tilevault/internal/mbtiles"
)

var infoCmd = &cobra.Command{
	Use:   "info [input.mbtiles]",
	Short: "Print container metadata as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := mbtiles.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }() // safe to ignore

		meta, err := c.ReadMetadata()
		if err != nil {
			return err
		}
		doc, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
