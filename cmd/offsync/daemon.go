package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/daemon"
	"github.com/mschirtzinger/offsync/internal/dashboard"
	"github.com/mschirtzinger/offsync/internal/integrity"
	"github.com/mschirtzinger/offsync/internal/sync"
	"github.com/mschirtzinger/offsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync scheduler (foreground)",
	Long: `Run the sync scheduler in the foreground.

The daemon will:
  1. Check the local cache and recover from corruption
  2. Run an initial sync
  3. Probe connectivity every daemon.connectivity_interval (30s)
  4. Sync every daemon.sync_interval (60s)
  5. Sync shortly after 'offsync queue add' in another process

Send SIGUSR1 to simulate the app returning to the foreground (probe, then
sync). With --dashboard the status server runs alongside.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireUser(); err != nil {
			return err
		}
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		// The handler is created after the client it reports on.
		var handler *dashboard.Handler
		a, err := openApp(appOptions{
			notify: func(r sync.PassReport) {
				if handler != nil {
					handler.OnSyncComplete(r)
				}
			},
			onIrrecoverable: func(errs []*integrity.CorruptionError) {
				fmt.Fprintf(os.Stderr, "%s %d integrity faults could not be recovered\n", ui.RenderFail("✗"), len(errs))
			},
		})
		if err != nil {
			return err
		}
		defer a.Close()

		var server *dashboard.Server
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Port:     cfg.Dashboard.Port,
				Gatherer: a.registry,
				Source:   a.client,
				Logger:   a.logs.Logger("dashboard"),
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				if err := server.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "Error during dashboard shutdown: %v\n", err)
				}
			}()
			handler = dashboard.NewHandler(server, a.client, a.logs.Logger("dashboard"))
		}

		var target daemon.Target = a.client
		if handler != nil {
			target = reportingTarget{Target: a.client, handler: handler}
		}

		dcfg := &daemon.Config{
			ConnectivityInterval: cfg.Daemon.ConnectivityInterval,
			SyncInterval:         cfg.Daemon.SyncInterval,
			DebounceInterval:     cfg.Daemon.Debounce,
			Logger:               a.logs.Logger("daemon"),
		}
		if cfg.Daemon.Watch {
			dcfg.WatchDir = cfg.DataDir
		}

		d, err := daemon.New(target, dcfg)
		if err != nil {
			return err
		}

		fmt.Printf("%s Starting offsync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   User: %s\n", cfg.UserID)
		fmt.Printf("   Data dir: %s\n", cfg.DataDir)
		if server != nil {
			fmt.Printf("   Dashboard: http://%s\n", server.Addr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		stopForeground := notifyForeground(ctx, d.Foreground)
		defer stopForeground()

		return d.Start(ctx)
	},
}

// reportingTarget forwards startup checks to the dashboard.
type reportingTarget struct {
	daemon.Target
	handler *dashboard.Handler
}

func (t reportingTarget) StartupCheck(ctx context.Context) (integrity.Report, *integrity.RecoveryResult) {
	report, recovery := t.Target.StartupCheck(ctx)
	t.handler.OnIntegrity(report, recovery)
	return report, recovery
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "also serve the status dashboard on dashboard.port")
	rootCmd.AddCommand(daemonCmd)
}
