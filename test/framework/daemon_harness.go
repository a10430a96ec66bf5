package framework

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/vrift/pkg/client"
)

// DaemonHarness drives a real vriftd subprocess for end-to-end
// scenarios, in contrast to pkg/daemon's own unit tests which exercise
// Daemon in-process. Binary must point at a built vriftd executable
// (e.g. from $VRIFTD_BINARY); scenarios that don't have one available
// skip via t.Skip rather than failing.
type DaemonHarness struct {
	Binary      string
	ProjectRoot string
	SocketPath  string

	Process *Process
	Client  *client.Client
}

// NewDaemonHarness builds a harness that will run binary against
// projectRoot, communicating over a socket placed at the project's
// standard .vrift/daemon.sock location (cmd/vriftd's own default).
func NewDaemonHarness(binary, projectRoot string) *DaemonHarness {
	return &DaemonHarness{
		Binary:      binary,
		ProjectRoot: projectRoot,
		SocketPath:  filepath.Join(projectRoot, ".vrift", "daemon.sock"),
	}
}

// Start launches vriftd, waits for its socket to appear, and dials a
// client against it.
func (h *DaemonHarness) Start(ctx context.Context) error {
	p := NewProcess(h.Binary)
	p.Args = []string{
		"--project-root", h.ProjectRoot,
		"--socket", h.SocketPath,
		"--log-level", "debug",
	}
	if err := p.Start(); err != nil {
		return fmt.Errorf("start vriftd: %w", err)
	}
	h.Process = p

	w := NewWaiter(10*time.Second, 50*time.Millisecond)
	if err := w.WaitForSocket(ctx, h.SocketPath); err != nil {
		p.Kill()
		return fmt.Errorf("wait for socket: %w", err)
	}

	c, err := client.Dial(h.SocketPath, "vrift-scenario-harness/1")
	if err != nil {
		p.Kill()
		return fmt.Errorf("dial: %w", err)
	}
	h.Client = c
	return nil
}

// Stop stops the daemon client and subprocess.
func (h *DaemonHarness) Stop() {
	if h.Client != nil {
		h.Client.Close()
	}
	if h.Process != nil {
		if err := h.Process.Stop(); err != nil {
			h.Process.Kill()
		}
	}
}

// vdirFilePath mirrors pkg/daemon's private vdir mmap layout
// (".vrift/vdir.mmap" under the project root) so scenarios that need
// to open a read-only vdir.Reader directly know where to find it.
func vdirFilePath(projectRoot string) string {
	return filepath.Join(projectRoot, ".vrift", "vdir.mmap")
}
