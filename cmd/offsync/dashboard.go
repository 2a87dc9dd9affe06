package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/offsync/internal/dashboard"
	"github.com/mschirtzinger/offsync/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Serve the real-time status dashboard",
	Long: `Start a WebSocket dashboard server for monitoring the offline queue.

WebSocket messages include:
- queue_status: queue length, unsynced count, last sync, connectivity
- sync_complete: a sync pass finished
- integrity_report: result of an integrity check

Run standalone, the server publishes the queue status every --interval. Use
'offsync daemon --dashboard' to also receive sync and integrity events.

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Port:     port,
			Gatherer: a.registry,
			Source:   a.client,
			Logger:   a.logs.Logger("dashboard"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		handler := dashboard.NewHandler(server, a.client, a.logs.Logger("dashboard"))

		addr := server.Addr()
		fmt.Printf("%s Dashboard server started on http://%s\n", ui.RenderAccent("📊"), addr)
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Printf("Health check: http://%s/health\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		publishStatus(ctx, handler, a, interval)

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Dashboard server stopped")
		return nil
	},
}

// publishStatus broadcasts the queue status every interval until ctx ends.
func publishStatus(ctx context.Context, handler *dashboard.Handler, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := a.client.Status(ctx)
			if err != nil {
				a.logs.Logger("dashboard").Printf("Failed to read queue status: %v", err)
				continue
			}
			handler.OnStatus(st)
		}
	}
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "port to listen on (default dashboard.port)")
	dashboardCmd.Flags().Duration("interval", 5*time.Second, "how often to publish the queue status")
	rootCmd.AddCommand(dashboardCmd)
}
