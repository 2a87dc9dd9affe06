package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/offline"
	"github.com/mschirtzinger/offsync/internal/ui"
)

type statusOutput struct {
	offline.QueueStatus `yaml:",inline"`
	LastChecked         *time.Time `json:"lastChecked,omitempty" yaml:"lastChecked,omitempty"`
	DataDir             string     `json:"dataDir" yaml:"dataDir"`
	UserID              string     `json:"userId" yaml:"userId"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queue size, last sync and connectivity",
	Long: `Show the offline queue status.

Connectivity is the last persisted probe result; pass --check to probe now.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if check {
			a.client.CheckConnectivity(ctx)
		}

		st, err := a.client.Status(ctx)
		if err != nil {
			return err
		}

		out := statusOutput{QueueStatus: st, DataDir: cfg.DataDir, UserID: cfg.UserID}
		if ns, ok := a.client.Monitor().Status(ctx); ok {
			out.LastChecked = &ns.LastChecked
		}

		return printOutput(cmd.OutOrStdout(), out, func(w io.Writer) {
			fmt.Fprintf(w, "\n%s Offline Queue Status\n\n", ui.RenderAccent("📊"))
			fmt.Fprintf(w, "Queued: %d\n", st.QueueLength)
			fmt.Fprintf(w, "Unsynced: %d\n", st.UnsyncedCount)

			if st.LastSync != nil {
				fmt.Fprintf(w, "Last sync: %s\n", st.LastSync.Local().Format("2006-01-02 15:04:05"))
			} else {
				fmt.Fprintf(w, "Last sync: %s\n", ui.RenderMuted("never"))
			}

			network := ui.RenderPass("online")
			if !st.IsOnline {
				network = ui.RenderWarn("offline")
			}
			if out.LastChecked != nil {
				network += ui.RenderMuted(fmt.Sprintf(" (checked %s)", out.LastChecked.Local().Format("15:04:05")))
			}
			fmt.Fprintf(w, "Network: %s\n", network)
			fmt.Fprintf(w, "Data: %s\n\n", cfg.DataDir)
		})
	},
}

func init() {
	statusCmd.Flags().Bool("check", false, "probe connectivity before reporting")
	rootCmd.AddCommand(statusCmd)
}
