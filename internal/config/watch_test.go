package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alignd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, zap.NewNop(), func(cfg *Config) { changes <- cfg })
	}()

	// Rewrite until the watcher picks the edit up; the goroutine may not
	// have registered the directory yet on the first write.
	var got *Config
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9002\n"), 0o600))
		select {
		case got = <-changes:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond, "watcher never reported the edit")
	assert.Equal(t, 9002, got.Server.Port)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestWatchKeepsPreviousConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alignd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, zap.NewNop(), func(cfg *Config) { changes <- cfg })
	}()

	// An edit that fails validation must never reach onChange, and the
	// watcher must keep running: a later valid edit still fires.
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o600))
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9003\n"), 0o600))
		select {
		case got := <-changes:
			assert.Equal(t, 9003, got.Server.Port)
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond, "watcher never recovered from the invalid edit")

	// Drain anything still queued; every delivered config must be valid.
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case got := <-changes:
			assert.Equal(t, 9003, got.Server.Port)
		case <-deadline:
			cancel()
			<-done
			return
		}
	}
}
