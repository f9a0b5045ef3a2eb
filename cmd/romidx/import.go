package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/retronian/romidx/internal/dat"
	"github.com/retronian/romidx/internal/db"
)

var (
	bufferSize uint16
	dryRun     bool
)

var importCmd = &cobra.Command{
	Use:   "import <dat-file>",
	Short: "Import a DAT file into the index",
	Long:  "Parses a Logiqx/MAME XML or ClrMamePro DAT (optionally zip or xz compressed) and builds the index from scratch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			return dat.Import(args[0], db.NewSysOutWriter(os.Stdout))
		}

		database, err := db.Open(dbPath)
		if err != nil {
			return err
		}
		defer database.Close()

		return dat.Import(args[0], db.NewWriter(database, bufferSize))
	},
}

func init() {
	importCmd.Flags().Uint16Var(&bufferSize, "buffer-size", db.DefaultBufferSize, "entries buffered per transaction")
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print parsed entries instead of writing the index")
	rootCmd.AddCommand(importCmd)
}
