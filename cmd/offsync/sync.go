package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/sync"
	"github.com/mschirtzinger/offsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Apply queued transactions to the remote store",
	Long: `Run one sync pass: every unsynced transaction is written to the remote store,
the profile is updated, and applied entries are removed from the queue.

With --retry the pass is retried with exponential backoff while it errors or
leaves failures behind.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireUser(); err != nil {
			return err
		}
		retry, _ := cmd.Flags().GetBool("retry")
		createProfile, _ := cmd.Flags().GetBool("create-profile")
		refresh, _ := cmd.Flags().GetBool("refresh-cache")

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if createProfile {
			if err := a.remote.EnsureProfile(ctx, cfg.UserID); err != nil {
				return err
			}
		}

		start := time.Now()
		var result sync.Result
		if retry {
			result, err = a.client.SyncNow(ctx)
		} else {
			result, err = a.client.SyncOnce(ctx)
		}
		if err != nil && !errors.Is(err, sync.ErrRetriesExhausted) {
			return err
		}

		if refresh {
			if err := a.client.RefreshCache(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s Failed to refresh cache: %v\n", ui.RenderWarn("⚠"), err)
			}
		}

		if perr := printOutput(cmd.OutOrStdout(), result, func(w io.Writer) {
			mark := ui.RenderPass("✓")
			if result.Failed > 0 {
				mark = ui.RenderWarn("⚠")
			}
			fmt.Fprintf(w, "%s Sync complete in %v\n", mark, time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(w, "   Applied: %d\n", result.Success)
			fmt.Fprintf(w, "   Failed: %d\n", result.Failed)
		}); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	syncCmd.Flags().Bool("retry", false, "retry with exponential backoff")
	syncCmd.Flags().Bool("create-profile", false, "create an empty remote profile for the user if missing")
	syncCmd.Flags().Bool("refresh-cache", false, "refresh the local cache from the remote store afterwards")
	rootCmd.AddCommand(syncCmd)
}
