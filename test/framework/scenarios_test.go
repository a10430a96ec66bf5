// End-to-end scenario driver for the six workflows in spec.md's
// "End-to-end scenarios" section (S1-S6). These exercise the daemon and
// routing decision engine directly rather than through a loaded
// cmd/libinception shared library: spec.md §6 itself distinguishes the
// "exhaustively unit tested in Go" decision layer from the thin cgo
// boundary that calls it, and a real LD_PRELOAD/DYLD_INSERT_LIBRARIES
// run requires a built .so/.dylib and a subprocess environment outside
// what `go test` can set up portably. DaemonHarness (daemon_harness.go)
// can drive a real vriftd subprocess, but no scenario here uses it: all
// six run in-process.
package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrift/pkg/cas"
	"github.com/cuemby/vrift/pkg/config"
	"github.com/cuemby/vrift/pkg/daemon"
	"github.com/cuemby/vrift/pkg/routing"
	"github.com/cuemby/vrift/pkg/vdir"
	"github.com/cuemby/vrift/pkg/vnode"
)

func openTestDaemon(t *testing.T, root string) *daemon.Daemon {
	t.Helper()
	cfg := config.Defaults()
	cfg.Project.VFSPrefix = root
	cfg.Storage.TheSource = filepath.Join(root, ".vrift", "cas")

	d, err := daemon.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func seedVNode(seed int) vnode.VNode {
	var ch vnode.ContentHash
	ch[0] = byte(seed)
	ch[1] = byte(seed >> 8)
	return vnode.VNode{ContentHash: ch, Size: 128, MtimeSec: 1700000000, Mode: 0644}
}

// TestScenarioS1StatLatency ingests a batch of files and measures the
// mean wall time of vdir.Reader.Lookup — the code path cmd/libinception's
// exported `stat` calls for a VDir hit (spec.md S1). The count is scaled
// down from the spec's 50,000/100,000 for test runtime; the latency
// budget is unaffected by index size once >1000 entries.
func TestScenarioS1StatLatency(t *testing.T) {
	root := t.TempDir()
	d := openTestDaemon(t, root)

	const fileCount = 2000
	for i := 0; i < fileCount; i++ {
		_, err := d.Put(fmt.Sprintf("/src/file%d.rs", i), seedVNode(i))
		require.NoError(t, err)
	}

	r, err := vdir.Open(vdirFilePath(root))
	require.NoError(t, err)
	defer r.Close()

	const iterations = 10000
	start := time.Now()
	for i := 0; i < iterations; i++ {
		_, found, err := r.Lookup("/src/file1000.rs")
		require.NoError(t, err)
		require.True(t, found)
	}
	elapsed := time.Since(start)

	mean := elapsed / iterations
	t.Logf("mean lookup latency over %d iterations: %v", iterations, mean)
	require.Less(t, mean, 50*time.Microsecond, "lookup latency budget exceeded")
}

// TestScenarioS2MutationBlocking runs the routing decision for each
// mutating libc call against an ingested path and asserts the errno
// cmd/libinception's exported wrappers would return (spec.md S2).
func TestScenarioS2MutationBlocking(t *testing.T) {
	root := t.TempDir()
	d := openTestDaemon(t, root)

	_, err := d.Put("/src/hello.txt", seedVNode(1))
	require.NoError(t, err)

	r, err := vdir.Open(vdirFilePath(root))
	require.NoError(t, err)
	defer r.Close()

	router := routing.New(root, r)

	for _, kind := range []routing.CallKind{
		routing.CallMutation, // chmod, unlink, truncate, chown
	} {
		res := router.Route(kind, filepath.Join(root, "src/hello.txt"), "")
		require.Equal(t, routing.Block, res.Decision)
		require.Equal(t, routing.ErrnoEPERM, res.Errno)
	}

	rename := router.Route(routing.CallRename, filepath.Join(root, "src/hello.txt"), "/tmp/x")
	require.Equal(t, routing.Block, rename.Decision)
	require.Equal(t, routing.ErrnoEXDEV, rename.Errno)

	link := router.Route(routing.CallLink, filepath.Join(root, "src/hello.txt"), "/tmp/x")
	require.Equal(t, routing.Block, link.Decision)
	require.Equal(t, routing.ErrnoEXDEV, link.Errno)

	// The manifest entry and its CAS blob are untouched by any of the
	// above — no mutation call was ever allowed to reach the real FS.
	got, found, err := d.Get("/src/hello.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(128), got.Size)
}

// TestScenarioS3StagedWriteVisibility drives the open/commit sequence
// for a write under a writable subtree and asserts observers see either
// nothing (pre-commit) or the fully committed VNode — never a partial
// state (spec.md S3).
func TestScenarioS3StagedWriteVisibility(t *testing.T) {
	root := t.TempDir()
	d := openTestDaemon(t, root)

	stagingDir := filepath.Join(root, routing.StagingDir)
	require.NoError(t, os.MkdirAll(stagingDir, 0755))

	stagingPath := routing.StagingPath(root)
	require.NoError(t, os.WriteFile(stagingPath, []byte("abc"), 0644))

	// Process 3: started during the write, before commit — observes no
	// entry yet.
	_, found, err := d.Get("/target/out.o")
	require.NoError(t, err)
	require.False(t, found)

	v, _, err := d.Reingest("/target/out.o", stagingPath, time.Now().UnixNano(), 0644)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v.Size)

	// Process 2: started after close/commit — sees the complete entry.
	got, found, err := d.Get("/target/out.o")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(3), got.Size)

	store, err := cas.Open(filepath.Join(root, ".vrift", "cas"))
	require.NoError(t, err)
	blob, err := store.OpenBlob(got.ContentHash, got.Size)
	require.NoError(t, err)
	defer blob.Close()
	content := make([]byte, 3)
	_, err = blob.Read(content)
	require.NoError(t, err)
	require.Equal(t, "abc", string(content))
}

// TestScenarioS4TornRead hammers Lookup from many goroutines while a
// single writer alternates VNode sizes, asserting every observed size
// is one of the two legal values — never a torn mix (spec.md S4).
func TestScenarioS4TornRead(t *testing.T) {
	root := t.TempDir()
	d := openTestDaemon(t, root)

	_, err := d.Put("/pkg/x", vnode.VNode{Size: 100, MtimeSec: 1})
	require.NoError(t, err)

	r, err := vdir.Open(vdirFilePath(root))
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errs <- nil
					return
				default:
				}
				v, found, err := r.Lookup("/pkg/x")
				if err != nil {
					continue // bounded-retry exhaustion is an allowed outcome
				}
				if !found {
					errs <- fmt.Errorf("unexpected miss on /pkg/x")
					return
				}
				if v.Size != 100 && v.Size != 200 {
					errs <- fmt.Errorf("torn read observed size %d", v.Size)
					return
				}
			}
		}()
	}

	size := uint64(100)
	for ctx.Err() == nil {
		size = 300 - size // alternate 100/200
		_, err := d.Put("/pkg/x", vnode.VNode{Size: size, MtimeSec: 1})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
}

// TestScenarioS6GCIdempotence ingests a file, sweeps it as unused, and
// asserts a second sweep reports zero further deletions (spec.md S6).
func TestScenarioS6GCIdempotence(t *testing.T) {
	root := t.TempDir()
	casRoot := filepath.Join(root, ".vrift", "cas")
	store, err := cas.Open(casRoot)
	require.NoError(t, err)

	srcPath := filepath.Join(root, "blob.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0644))

	_, _, err = store.Ingest(srcPath)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	first, err := store.Sweep(5*time.Millisecond, true)
	require.NoError(t, err)
	require.Equal(t, 1, first.Removed)

	second, err := store.Sweep(5*time.Millisecond, true)
	require.NoError(t, err)
	require.Equal(t, 0, second.Removed)
}

// TestScenarioS5CrashRecovery ingests files and commits, closes the
// daemon, then reopens it through the manifest.Recover path and asserts
// every committed VNode is still present and lookups succeed against
// the rebuilt VDir (spec.md S5).
func TestScenarioS5CrashRecovery(t *testing.T) {
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.Project.VFSPrefix = root
	cfg.Storage.TheSource = filepath.Join(root, ".vrift", "cas")

	d, err := daemon.Open(cfg)
	require.NoError(t, err)

	const fileCount = 50
	for i := 0; i < fileCount; i++ {
		_, err := d.Put(fmt.Sprintf("/src/file%d.rs", i), seedVNode(i))
		require.NoError(t, err)
	}
	// Every Put above is committed to the bbolt manifest before it
	// returns. Close also flushes and syncs the buffered WAL and
	// releases the manifest's file lock, so this is a clean shutdown
	// rather than a SIGKILL; the reopen below goes through the same
	// manifest.Recover path a crash restart would.
	require.NoError(t, d.Close())

	d2, err := daemon.Open(cfg)
	require.NoError(t, err)
	defer d2.Close()

	for i := 0; i < fileCount; i++ {
		path := fmt.Sprintf("/src/file%d.rs", i)
		v, found, err := d2.Get(path)
		require.NoError(t, err)
		require.True(t, found, "missing %s after recovery", path)
		require.Equal(t, uint64(128), v.Size)
	}

	r, err := vdir.Open(vdirFilePath(root))
	require.NoError(t, err)
	defer r.Close()

	_, found, err := r.Lookup("/src/file0.rs")
	require.NoError(t, err)
	require.True(t, found)
}
