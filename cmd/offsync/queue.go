package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/offline"
	"github.com/mschirtzinger/offsync/internal/queue"
	"github.com/mschirtzinger/offsync/internal/schema"
	"github.com/mschirtzinger/offsync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "queue",
	Short:   "Manage the offline transaction queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <earn|spend> <amount> [description]",
	Short: "Queue a transaction for the next sync",
	Long: `Queue an earn or spend transaction. It is applied to the remote store by the
next sync, whether or not the network is reachable now.

Examples:
  offsync queue add earn 12.50 "quiz reward" --app quiz
  offsync queue add spend 4 coffee --at "yesterday 5pm"`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		description := ""
		if len(args) == 3 {
			description = args[2]
		}

		proof, _ := cmd.Flags().GetString("proof")
		appName, _ := cmd.Flags().GetString("app")
		at, _ := cmd.Flags().GetString("at")

		opts := offline.Options{ProofImageURL: proof, AppName: appName}
		if at != "" {
			ts, err := parseWhen(at, time.Now())
			if err != nil {
				return err
			}
			opts.Timestamp = ts
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.client.QueueTransaction(cmd.Context(), schema.TxType(args[0]), amount, description, opts)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), map[string]string{"id": id}, func(w io.Writer) {
			fmt.Fprintf(w, "%s Queued %s %s (%s)\n", ui.RenderPass("✓"), args[0], args[1], id)
		})
	},
}

// parseWhen turns natural language like "yesterday 5pm" into a time, and
// also accepts RFC3339.
func parseWhen(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", s)
	}
	return r.Time, nil
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued transactions in enqueue order",
	RunE: func(cmd *cobra.Command, args []string) error {
		unsyncedOnly, _ := cmd.Flags().GetBool("unsynced")

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		var entries []schema.QueuedTransaction
		if unsyncedOnly {
			entries, err = a.client.Queue().ListUnsynced(cmd.Context())
		} else {
			entries, err = a.client.Queue().List(cmd.Context())
		}
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), entries, func(w io.Writer) {
			if len(entries) == 0 {
				fmt.Fprintln(w, "Queue is empty")
				return
			}
			for _, e := range entries {
				state := ui.RenderWarn("pending")
				if e.Synced {
					state = ui.RenderPass("synced")
				}
				line := fmt.Sprintf("%4d  %-5s %10.2f  %s  %s", e.Seq, e.Type, e.Amount, e.Timestamp.Format(time.RFC3339), state)
				if e.Description != "" {
					line += "  " + e.Description
				}
				fmt.Fprintln(w, line)
				fmt.Fprintf(w, "      %s\n", ui.RenderMuted(e.ID))
			}
		})
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the queue as JSONL (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			defer f.Close()
			out = f
		}

		n, err := a.client.Queue().ExportJSONL(cmd.Context(), out)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported %d entries to %s\n", ui.RenderPass("✓"), n, args[0])
		}
		return nil
	},
}

var queueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import queue entries from JSONL",
	Long: `Import queue entries previously written by 'offsync queue export'.

Entries whose ID is already queued are skipped as duplicates. Imported
entries are appended after the existing queue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts queue.ImportOptions
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		opts.SkipSynced, _ = cmd.Flags().GetBool("skip-synced")
		opts.ResetSynced, _ = cmd.Flags().GetBool("reset-synced")

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.client.Queue().ImportJSONL(cmd.Context(), f, opts)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), result, func(w io.Writer) {
			verb := "Imported"
			if opts.DryRun {
				verb = "Would import"
			}
			fmt.Fprintf(w, "%s %s %d entries\n", ui.RenderPass("✓"), verb, result.Imported)
			fmt.Fprintf(w, "   Duplicates: %d\n", result.Duplicates)
			fmt.Fprintf(w, "   Skipped: %d\n", result.Skipped)
			for _, e := range result.Errors {
				fmt.Fprintf(w, "   %s %s\n", ui.RenderWarn("⚠"), e)
			}
		})
	},
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove entries that are already synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.client.Queue().CleanupSynced(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d synced entries\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every queued entry, synced or not",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.client.Status(cmd.Context())
		if err != nil {
			return err
		}

		if !yes {
			ok, err := ui.Confirm(
				"Clear the offline queue?",
				fmt.Sprintf("%d entries, %d not yet synced, will be lost.", st.QueueLength, st.UnsyncedCount),
			)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
		}

		if err := a.client.Queue().Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared %d entries\n", ui.RenderPass("✓"), st.QueueLength)
		return nil
	},
}

func init() {
	queueAddCmd.Flags().String("proof", "", "proof image URL")
	queueAddCmd.Flags().String("app", "", "originating app name")
	queueAddCmd.Flags().String("at", "", `when it happened, e.g. "yesterday 5pm" (default now)`)

	queueListCmd.Flags().Bool("unsynced", false, "show only entries not yet synced")

	queueImportCmd.Flags().Bool("dry-run", false, "report what would be imported without writing")
	queueImportCmd.Flags().Bool("skip-synced", false, "skip entries already marked synced")
	queueImportCmd.Flags().Bool("reset-synced", false, "import synced entries as unsynced")

	queueClearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	queueCmd.AddCommand(queueAddCmd, queueListCmd, queueExportCmd, queueImportCmd, queueCleanupCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
