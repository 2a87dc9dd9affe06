// Command offsync queues earn/spend transactions while offline and syncs
// them to the remote record store when connectivity returns.
package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/config"
)

var validFormats = []string{"text", "json", "yaml"}

var (
	configFile   string
	outputFormat string

	// cfg is loaded before every command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "offsync",
	Short: "Offline transaction queue and sync engine",
	Long: `offsync captures earn/spend transactions locally while the remote store is
unreachable, and reconciles them with the remote store once it is back.

It also validates the locally cached profile and transactions, keeps
backups of them, and recovers from corruption.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !slices.Contains(validFormats, outputFormat) {
			return fmt.Errorf("invalid format %q: must be one of %v", outputFormat, validFormats)
		}
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./offsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "output format (text|json|yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "integrity", Title: "Integrity:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
