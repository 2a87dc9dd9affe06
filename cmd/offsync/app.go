package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/offsync/internal/daemon"
	"github.com/mschirtzinger/offsync/internal/integrity"
	"github.com/mschirtzinger/offsync/internal/logging"
	"github.com/mschirtzinger/offsync/internal/network"
	"github.com/mschirtzinger/offsync/internal/offline"
	"github.com/mschirtzinger/offsync/internal/remote"
	"github.com/mschirtzinger/offsync/internal/storage"
	"github.com/mschirtzinger/offsync/internal/sync"
)

// app holds everything a command needs, opened from cfg.
type app struct {
	logs     *logging.Factory
	kv       storage.KV
	remote   *remote.Lazy
	registry *prometheus.Registry
	client   *offline.Client
}

// appOptions customizes openApp for long-running commands.
type appOptions struct {
	notify          func(sync.PassReport)
	onIrrecoverable func([]*integrity.CorruptionError)
}

func openApp(opts appOptions) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logs := logging.New(cfg.Log)

	kv, err := storage.Open(cfg.Storage.Backend, cfg.DataDir, logs.Logger("storage"))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	var prober network.Prober
	if cfg.Network.ProbeURL != "" {
		prober = &network.HTTPProber{URL: cfg.Network.ProbeURL}
	}

	rs := remote.NewLazy(cfg.RemoteDSN())
	registry := prometheus.NewRegistry()
	dataDir := cfg.DataDir

	client := offline.New(kv, rs, offline.Config{
		UserID: cfg.UserID,
		Network: network.Config{
			Prober:  prober,
			Timeout: cfg.Network.Timeout,
			Logger:  logs.Logger("network"),
		},
		Sync: sync.Config{
			MaxRetries:   cfg.Sync.MaxRetries,
			RetryBase:    cfg.Sync.RetryBase,
			RetryJitter:  cfg.Sync.RetryJitter,
			CallTimeout:  cfg.Remote.Timeout,
			Logger:       logs.Logger("sync"),
			PromRegistry: registry,
			Notify:       opts.notify,
		},
		Integrity: integrity.Config{
			OnIrrecoverable: opts.onIrrecoverable,
			Logger:          logs.Logger("integrity"),
		},
		Logger: logs.Logger("offsync"),
		OnEnqueue: func() {
			// Wakes a daemon watching the data directory; harmless without one.
			if err := daemon.Touch(dataDir); err != nil {
				logs.Logger("offsync").Printf("WARNING: %v", err)
			}
		},
	})

	return &app{
		logs:     logs,
		kv:       kv,
		remote:   rs,
		registry: registry,
		client:   client,
	}, nil
}

func (a *app) Close() {
	if err := a.remote.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close remote store: %v\n", err)
	}
	if err := a.kv.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close local store: %v\n", err)
	}
	_ = a.logs.Close()
}

// printOutput writes v as JSON or YAML when --format asks for it, and calls
// text otherwise.
func printOutput(w io.Writer, v any, text func(io.Writer)) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}
