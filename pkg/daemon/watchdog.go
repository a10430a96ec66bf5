package daemon

import (
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vrift/pkg/log"
	"github.com/cuemby/vrift/pkg/metrics"
	"github.com/cuemby/vrift/pkg/routing"
)

// staleStagingAge is how long an orphaned staging file may sit before
// the watchdog reaps it. A client that crashes mid-write leaves its
// staging file behind with no commit ever following; anything older
// than a full missed-heartbeat window is safe to assume abandoned.
const staleStagingAge = heartbeatInterval * maxMissedHeartbeats

// connState tracks one live client connection's liveness for the
// crash-detection half of spec.md §5: "heartbeat 10s / 3 missed ->
// disconnect."
type connState struct {
	conn     net.Conn
	lastSeen time.Time
	missed   int
}

// watchdog detects client disconnects and reaps orphaned staging files,
// grounded on the teacher's node-heartbeat bookkeeping (pkg/manager),
// generalized from a Raft-cluster node registry to per-connection client
// liveness over a Unix socket.
type watchdog struct {
	d *Daemon

	mu    sync.Mutex
	conns map[string]*connState

	stopCh chan struct{}
	doneCh chan struct{}
}

func newWatchdog(d *Daemon) *watchdog {
	return &watchdog{
		d:      d,
		conns:  make(map[string]*connState),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (w *watchdog) track(id string, conn net.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conns[id] = &connState{conn: conn, lastSeen: time.Now()}
}

func (w *watchdog) sawActivity(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.conns[id]; ok {
		c.lastSeen = time.Now()
		c.missed = 0
	}
}

func (w *watchdog) forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.conns, id)
}

// run periodically checks every tracked connection's last activity and
// sweeps orphaned staging files. It exits when stop is called.
func (w *watchdog) run() {
	defer close(w.doneCh)
	logger := log.WithComponent("watchdog")
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			w.checkLiveness(logger)
			w.reapStaging(logger)
		case <-w.stopCh:
			return
		}
	}
}

func (w *watchdog) checkLiveness(logger zerolog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for id, c := range w.conns {
		if now.Sub(c.lastSeen) <= heartbeatInterval {
			continue
		}
		c.missed++
		if c.missed < maxMissedHeartbeats {
			continue
		}
		_ = c.conn.Close()
		delete(w.conns, id)
		metrics.ClientDisconnectsTotal.Inc()
		logger.Warn().Str("conn_id", id).Msg("client missed heartbeats, disconnected")
	}
}

// reapStaging removes staging files left behind by a crashed client
// that never sent a ManifestReingest commit for them (spec.md §4.3.4:
// "watchdog ... staging file cleanup").
func (w *watchdog) reapStaging(logger zerolog.Logger) {
	dir := filepath.Join(w.d.ProjectRoot, routing.StagingDir)
	cutoff := time.Now().Add(-staleStagingAge)

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if os.Remove(path) == nil {
			metrics.StagingFilesReapedTotal.Inc()
			logger.Debug().Str("path", path).Msg("reaped orphaned staging file")
		}
		return nil
	})
}

func (w *watchdog) stop() {
	close(w.stopCh)
	<-w.doneCh
}
