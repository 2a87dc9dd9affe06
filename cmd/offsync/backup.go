package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/ui"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "integrity",
	Short:   "Manage backups of the local cache",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Back up the cached profile and transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.client.CreateBackup(cmd.Context(), reason)
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), b.Metadata, func(w io.Writer) {
			fmt.Fprintf(w, "%s Backup created at %s\n", ui.RenderPass("✓"), b.Timestamp.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "   Transactions: %d\n", b.Metadata.TotalTransactions)
			fmt.Fprintf(w, "   Reason: %s\n", b.Metadata.BackupReason)
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local cache with the last backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		b, err := a.client.Integrity().Backup(ctx)
		if err != nil {
			return err
		}
		if b == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s No backup to restore\n", ui.RenderWarn("⚠"))
			return nil
		}

		if !yes {
			ok, err := ui.Confirm(
				"Restore the local cache from backup?",
				fmt.Sprintf("The backup from %s replaces the current cache.", b.Timestamp.Local().Format("2006-01-02 15:04:05")),
			)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
		}

		restored, err := a.client.RestoreBackup(ctx)
		if err != nil {
			return err
		}
		if restored == nil {
			return fmt.Errorf("backup is not usable (run 'offsync backup verify')")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Restored %d transactions from backup\n", ui.RenderPass("✓"), len(restored.Transactions))
		return nil
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate the stored backup without restoring it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.client.Integrity().Backup(cmd.Context())
		if err != nil {
			return err
		}
		check := a.client.Integrity().ValidateBackup(b)

		if err := printOutput(cmd.OutOrStdout(), check, func(w io.Writer) {
			if check.Valid {
				fmt.Fprintf(w, "%s Backup is valid\n", ui.RenderPass("✓"))
			} else {
				fmt.Fprintf(w, "%s Backup is not usable\n", ui.RenderFail("✗"))
			}
			for _, e := range check.Errors {
				fmt.Fprintf(w, "   %s %s\n", ui.RenderFail("✗"), e)
			}
			for _, warning := range check.Warnings {
				fmt.Fprintf(w, "   %s %s\n", ui.RenderWarn("⚠"), warning)
			}
		}); err != nil {
			return err
		}
		if !check.Valid {
			return fmt.Errorf("backup validation failed")
		}
		return nil
	},
}

var backupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent backup timestamps, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		history, err := a.client.Integrity().BackupHistory(cmd.Context())
		if err != nil {
			return err
		}

		return printOutput(cmd.OutOrStdout(), history, func(w io.Writer) {
			if len(history) == 0 {
				fmt.Fprintln(w, "No backups yet")
				return
			}
			now := time.Now()
			for _, ts := range history {
				age := now.Sub(ts).Round(time.Minute)
				fmt.Fprintf(w, "%s  %s\n", ts.Local().Format("2006-01-02 15:04:05"), ui.RenderMuted(age.String()+" ago"))
			}
		})
	},
}

func init() {
	backupCreateCmd.Flags().String("reason", "manual", "reason recorded in the backup metadata")
	backupRestoreCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	backupCmd.AddCommand(backupCreateCmd, backupRestoreCmd, backupVerifyCmd, backupHistoryCmd)
	rootCmd.AddCommand(backupCmd)
}
