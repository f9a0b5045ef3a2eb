package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage <game> <rom>",
	Short: "Show every set containing a ROM's content",
	Args:  cobra.ExactArgs(2),
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

		search, err := reader.FindRomUsage(args[0], args[1], mode)
		if err != nil {
			return err
		}
		fmt.Print(search)
		return nil
	},
}

var sharedCmd = &cobra.Command{
	Use:   "shared <game>",
	Short: "Show sets sharing any ROM with a game",
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

		search, err := reader.GetRomsetSharedRoms(args[0], mode)
		if err != nil {
			return err
		}
		fmt.Print(search)
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices <game>",
	Short: "Show the device refs a game depends on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, reader, err := openReader()
		if err != nil {
			return err
		}
		defer database.Close()

		devices, err := reader.GetDevicesForGame(args[0])
		if err != nil {
			return err
		}
		for _, device := range devices {
			fmt.Println(device)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(sharedCmd)
	rootCmd.AddCommand(devicesCmd)
}
