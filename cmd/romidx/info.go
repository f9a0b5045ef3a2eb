package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a summary of the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, reader, err := openReader()
		if err != nil {
			return err
		}
		defer database.Close()

		report, err := reader.GetDBReport()
		if err != nil {
			return err
		}
		fmt.Print(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
