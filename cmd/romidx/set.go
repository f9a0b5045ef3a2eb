package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <game>",
	Short: "Show a game's romset under the selected mode",
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

		set, err := reader.GetGameSet(args[0], mode)
		if err != nil {
			return err
		}

		game := set.Game
		fmt.Printf("%s - %s\n", game.Name, game.Description)
		if game.CloneOf != "" {
			fmt.Printf("Clone of: %s\n", game.CloneOf)
		}
		if game.Year != "" || game.Manufacturer != "" {
			fmt.Printf("%s %s\n", game.Year, game.Manufacturer)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROM\tSIZE\tCRC\tSHA1\tSTATUS")
		for _, rom := range set.Roms {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", rom.Name, rom.Size, rom.CRC, rom.SHA1, rom.Status)
		}
		w.Flush()

		for _, disk := range set.Disks {
			fmt.Printf("disk: %s\n", disk)
		}
		if len(set.Samples) > 0 {
			fmt.Printf("samples (%s):", game.SampleOf)
			for _, sample := range set.Samples {
				fmt.Printf(" %s", sample)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
}
