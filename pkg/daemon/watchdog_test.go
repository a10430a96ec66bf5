package daemon

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrift/pkg/log"
	"github.com/cuemby/vrift/pkg/routing"
)

func TestWatchdogChecksLivenessAndDisconnectsStaleConn(t *testing.T) {
	root := t.TempDir()
	d, err := Open(testConfig(t, root))
	require.NoError(t, err)
	defer d.Close()

	w := newWatchdog(d)
	server, client := net.Pipe()
	defer client.Close()

	w.track("conn-1", server)
	w.mu.Lock()
	w.conns["conn-1"].lastSeen = time.Now().Add(-10 * heartbeatInterval)
	w.mu.Unlock()

	logger := log.WithComponent("watchdog-test")
	for i := 0; i < maxMissedHeartbeats; i++ {
		w.checkLiveness(logger)
	}

	w.mu.Lock()
	_, stillTracked := w.conns["conn-1"]
	w.mu.Unlock()
	require.False(t, stillTracked)
}

func TestWatchdogSawActivityResetsMissedCount(t *testing.T) {
	root := t.TempDir()
	d, err := Open(testConfig(t, root))
	require.NoError(t, err)
	defer d.Close()

	w := newWatchdog(d)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	w.track("conn-2", server)
	w.mu.Lock()
	w.conns["conn-2"].missed = maxMissedHeartbeats - 1
	w.mu.Unlock()

	w.sawActivity("conn-2")

	w.mu.Lock()
	missed := w.conns["conn-2"].missed
	w.mu.Unlock()
	require.Equal(t, 0, missed)
}

func TestWatchdogReapsStaleStagingFiles(t *testing.T) {
	root := t.TempDir()
	d, err := Open(testConfig(t, root))
	require.NoError(t, err)
	defer d.Close()
	d.ProjectRoot = root

	stagingDir := filepath.Join(root, routing.StagingDir)
	require.NoError(t, os.MkdirAll(stagingDir, 0700))

	stale := filepath.Join(stagingDir, "old.tmp")
	fresh := filepath.Join(stagingDir, "new.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0600))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0600))

	old := time.Now().Add(-2 * staleStagingAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	w := newWatchdog(d)
	w.reapStaging(log.WithComponent("watchdog-test"))

	require.NoFileExists(t, stale)
	require.FileExists(t, fresh)
}
