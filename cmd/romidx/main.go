package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/retronian/romidx/internal/db"
)

var (
	dbPath   string
	modeFlag string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "romidx",
	Short: "ROM-set index manager",
	Long:  "Builds a queryable index from a DAT file and audits on-disk ROM collections against it",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "romidx.db", "path to the index database")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "non-merged", "romset mode: merged, non-merged or split")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func romsetMode() (db.RomsetMode, error) {
	return db.ParseRomsetMode(modeFlag)
}

func openReader() (*db.DB, *db.Reader, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return database, db.NewReader(database), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
