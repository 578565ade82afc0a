package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

type levelRecorder struct {
	logger.NoopLogger

	levels chan string
}

func (r *levelRecorder) SetLevel(level string) {
	r.levels <- level
}

func (r *levelRecorder) WithComponent(name string) logger.Logger { return r }

func writeConfig(t *testing.T, path, level string) {
	t.Helper()

	content := "logging:\n  level: " + level + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func Test_Watcher_AppliesLogLevelChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skyhub.yaml")

	writeConfig(t, path, "info")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	recorder := &levelRecorder{levels: make(chan string, 4)}

	w, err := NewWatcher(cfg, recorder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))

	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "debug")

	select {
	case level := <-recorder.levels:
		assert.Equal(t, "debug", level)
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("expected log level reload")
	}
}

func Test_Watcher_IgnoresBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skyhub.yaml")

	writeConfig(t, path, "info")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	recorder := &levelRecorder{levels: make(chan string, 4)}

	w, err := NewWatcher(cfg, recorder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))

	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging: ["), 0o600))

	select {
	case level := <-recorder.levels:
		t.Fatalf("unexpected level change to %q", level)
	case <-time.After(time.Second):
	}

	assert.Equal(t, "info", cfg.Logging.Level)
}

func Test_Watcher_NoConfigFile_IsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()

	recorder := &levelRecorder{levels: make(chan string, 1)}

	w, err := NewWatcher(cfg, recorder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx), "a missing config path disables watching silently")
	require.NoError(t, w.Close())
}
