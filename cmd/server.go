package cmd

import (
	"github.com/Hdd5ps/sheet-to-sound/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the sheet-to-sound HTTP server",
	Long:  `Start the HTTP server providing the upload, conversion, and library API.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
