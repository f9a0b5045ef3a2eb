package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retronian/romidx/internal/audit"
	"github.com/retronian/romidx/internal/scanner"
)

var checkCmd = &cobra.Command{
	Use:   "check <dir>",
	Short: "Audit an on-disk collection against the index",
	Long:  "Scans a directory (descending into zips), matches files by content and reports per set what is present, renamable, missing or unneeded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := romsetMode()
		if err != nil {
			return err
		}
		database, reader, err := openReader()
		if err != nil {
			return err
		}
		defer database.Close()

		checks, err := reader.GetFileChecks()
		if err != nil {
			return err
		}
		groups, err := scanner.ScanGroups(args[0], checks)
		if err != nil {
			return err
		}

		report, err := audit.Check(reader, mode, groups)
		if err != nil {
			return err
		}
		fmt.Print(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
