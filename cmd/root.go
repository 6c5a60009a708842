package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fieldlink",
	Short: "fieldlink keeps a field device connected to the dispatch backend",
	Long: `fieldlink maintains a single authenticated WebSocket session with the
dispatch backend and keeps it alive across network drops, sleep and
backgrounding. Ticket, inventory and system events pushed by the server are
printed as they arrive.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
