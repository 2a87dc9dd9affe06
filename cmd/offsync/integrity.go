package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/integrity"
	"github.com/mschirtzinger/offsync/internal/ui"
)

var integrityCmd = &cobra.Command{
	Use:     "integrity",
	GroupID: "integrity",
	Short:   "Validate and repair the local cache",
}

var integrityCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the cached profile and transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.client.CheckIntegrity(cmd.Context())
		if err := printOutput(cmd.OutOrStdout(), report, func(w io.Writer) {
			printReport(w, report)
		}); err != nil {
			return err
		}
		if !report.IsValid {
			return fmt.Errorf("integrity check found %d errors (run 'offsync integrity recover')", len(report.Errors))
		}
		return nil
	},
}

type recoverOutput struct {
	Report   integrity.Report          `json:"report" yaml:"report"`
	Recovery *integrity.RecoveryResult `json:"recovery,omitempty" yaml:"recovery,omitempty"`
}

var integrityRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Check the cache and recover from any corruption found",
	Long: `Validate the local cache and recover from what is found.

High severity faults are answered by restoring the last backup. Profile
totals that disagree with the cached transactions are recomputed. Faults
that need information the client does not have are reported and left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var irrecoverable []*integrity.CorruptionError
		a, err := openApp(appOptions{
			onIrrecoverable: func(errs []*integrity.CorruptionError) { irrecoverable = errs },
		})
		if err != nil {
			return err
		}
		defer a.Close()

		report, recovery := a.client.StartupCheck(cmd.Context())
		out := recoverOutput{Report: report, Recovery: recovery}

		if err := printOutput(cmd.OutOrStdout(), out, func(w io.Writer) {
			printReport(w, report)
			if recovery == nil {
				return
			}
			switch {
			case recovery.BackupRestored:
				fmt.Fprintf(w, "%s Recovered by restoring the backup\n", ui.RenderPass("✓"))
			case recovery.Recovered:
				fmt.Fprintf(w, "%s Recovered\n", ui.RenderPass("✓"))
			default:
				fmt.Fprintf(w, "%s Not recovered\n", ui.RenderFail("✗"))
				for _, e := range irrecoverable {
					fmt.Fprintf(w, "   %s %s\n", ui.RenderFail("✗"), e.Message)
				}
			}
		}); err != nil {
			return err
		}

		if recovery != nil && !recovery.Recovered {
			return fmt.Errorf("recovery incomplete")
		}
		return nil
	},
}

func printReport(w io.Writer, report integrity.Report) {
	if report.IsValid {
		fmt.Fprintf(w, "%s Local cache is consistent\n", ui.RenderPass("✓"))
	} else {
		fmt.Fprintf(w, "%s %d integrity errors\n", ui.RenderFail("✗"), len(report.Errors))
	}
	for _, e := range report.Errors {
		fix := ""
		if e.Recoverable {
			fix = ui.RenderMuted(" [" + e.Fix.String() + "]")
		}
		fmt.Fprintf(w, "   %s %s%s\n", severityMark(e.Severity), e.Error(), fix)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "   %s %s\n", ui.RenderWarn("⚠"), warning)
	}
	if report.HasBackup {
		fmt.Fprintf(w, "Backup: %s\n", ui.RenderPass("available"))
	} else {
		fmt.Fprintf(w, "Backup: %s\n", ui.RenderWarn("none"))
	}
}

func severityMark(s integrity.Severity) string {
	switch s {
	case integrity.SeverityHigh:
		return ui.RenderFail("HIGH  ")
	case integrity.SeverityMedium:
		return ui.RenderWarn("MEDIUM")
	default:
		return ui.RenderMuted("LOW   ")
	}
}

func init() {
	integrityCmd.AddCommand(integrityCheckCmd, integrityRecoverCmd)
	rootCmd.AddCommand(integrityCmd)
}
