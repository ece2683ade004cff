package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatch(t *testing.T, path string, opt Options) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = File(ctx, path, opt, func() { n.Add(1) })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &n
}

func TestNotifyReportsWrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schedules.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	n := startWatch(t, path, Options{Debounce: 20 * time.Millisecond})
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x"}]`), 0o644))
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestNotifyIgnoresOtherFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "schedules.json")

	n := startWatch(t, path, Options{Debounce: 10 * time.Millisecond})
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
}

func TestPollReportsChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schedules.json")

	n := startWatch(t, path, Options{ForcePoll: true, PollInterval: 20 * time.Millisecond, Debounce: time.Millisecond})
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFallsBackToPolling(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "later")
	path := filepath.Join(dir, "schedules.json")

	var degraded atomic.Bool
	n := startWatch(t, path, Options{
		PollInterval:  20 * time.Millisecond,
		Debounce:      time.Millisecond,
		NotifyRetries: 1,
		OnDegraded:    func(string, string) { degraded.Store(true) },
	})
	require.Eventually(t, degraded.Load, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))
	require.Eventually(t, func() bool { return n.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
