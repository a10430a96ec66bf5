// Command libinception is the cgo -buildmode=c-shared boundary described
// in SPEC_FULL.md §6: it is loaded into a client process via
// LD_PRELOAD (Linux) or DYLD_INSERT_LIBRARIES (macOS) and exports
// replacements for the libc entry points named in spec.md §4.2.1. Each
// exported symbol resolves the real libc implementation once at init
// time via dlsym(RTLD_NEXT, ...), then on every call consults the
// reentrancy guard and pkg/routing's Router before deciding whether to
// call straight through or substitute a VDir/CAS-backed result.
//
// This package holds no routing policy of its own — see pkg/routing for
// that — and no business logic beyond translating between C calling
// convention and the Go decision engine. The exported symbols live in
// per-platform files (export_linux.go, export_darwin.go), which export
// the same symbol set and differ in how they obtain the thread id and
// which struct stat field carries the modification time; this file
// holds the platform-independent wiring shared by both.
package main

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/vrift/pkg/routing"
	"github.com/cuemby/vrift/pkg/vdir"
)

// state is the process-wide injected-layer state, built once in init()
// from the environment: VRIFT_PROJECT_ROOT, VRIFT_VDIR_PATH and
// VRIFT_WRITABLE_SUBTREES are read here, while VRIFT_SOCKET and
// VRIFT_CAS_ROOT are read lazily in commit.go.
var state struct {
	router     *routing.Router
	fdtable    *routing.FDTable
	reentrancy *routing.ReentrancyGuard
	inflight   *routing.Inflight
	vdir       *vdir.Reader
	projectDir string
	enabled    bool

	// stagedByFD tracks which open descriptors are writing to a staging
	// file, keyed by the fd that open returned; close() of that fd
	// commits. Descriptors duplicated from it are not tracked.
	stagedByFD sync.Map // int -> string (virtual path)
}

func init() {
	root := os.Getenv("VRIFT_PROJECT_ROOT")
	vdirPath := os.Getenv("VRIFT_VDIR_PATH")
	if root == "" || vdirPath == "" {
		// No project context: every exported symbol must degrade to a
		// pure passthrough (spec.md §4.2.2's "disabled" mode, used by
		// the daemon's own child processes so they never recurse into
		// their own interposition).
		state.enabled = false
		return
	}

	r, err := vdir.Open(vdirPath)
	if err != nil {
		state.enabled = false
		return
	}

	var writable []string
	if t1 := os.Getenv("VRIFT_WRITABLE_SUBTREES"); t1 != "" {
		writable = filepath.SplitList(t1)
	} else {
		writable = []string{"target", "node_modules", "build", ".vrift"}
	}

	state.vdir = r
	state.router = routing.New(root, r, writable...)
	state.fdtable = routing.NewFDTable(256)
	state.reentrancy = routing.NewReentrancyGuard()
	state.inflight = routing.NewInflight()
	state.projectDir = root
	state.enabled = true
}

// enter is called at the top of every exported symbol before touching
// any routing state. reentrant callers (e.g. a libc internal that calls
// back into an interposed symbol while servicing another one) must
// passthrough immediately (spec.md §4.2.2).
func enter(threadID uint64) (reentrant, active bool) {
	if !state.enabled {
		return false, false
	}
	if state.reentrancy.Enter(threadID) {
		state.reentrancy.Exit(threadID)
		return true, false
	}
	return false, true
}

func exit(threadID uint64) {
	if state.enabled {
		state.reentrancy.Exit(threadID)
	}
}

// main is required by -buildmode=c-shared but is never executed; the
// process that loads this library has its own entry point.
func main() {}
