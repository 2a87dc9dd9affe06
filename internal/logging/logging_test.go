package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/offsync/internal/config"
)

func TestNew_StderrOnly(t *testing.T) {
	f := New(config.LogConfig{})
	assert.Equal(t, os.Stderr, f.Writer())
	assert.NoError(t, f.Close())
}

func TestLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "offsync.log")
	f := New(config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})

	f.Logger("sync").Printf("Synced transaction: %s", "tx-1")
	f.Logger("daemon").Println("Starting daemon")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[sync] ")
	assert.Contains(t, string(data), "Synced transaction: tx-1")
	assert.Contains(t, string(data), "[daemon] ")
}
