package cmd

import (
	"fmt"
	"os"

	"github.com/Hdd5ps/sheet-to-sound/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sheet-to-sound",
	Short: "sheet-to-sound converts uploaded sheet music into audio and MIDI.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
