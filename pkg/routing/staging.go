package routing

import (
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// StagingDir is the name of the per-project directory holding private
// staging files for in-flight writes (spec.md §4.3: "a private staging
// file + set DIRTY bit").
const StagingDir = ".vrift/staging"

// StagingPath returns a fresh, collision-free staging file path for a
// write-open under projectRoot. The staging file name is opaque; only
// the daemon's commit bookkeeping maps it back to a virtual path
// (spec.md §4.3.3 step 2: "Send COMMIT{virtual_path, staging_path,
// ...}").
func StagingPath(projectRoot string) string {
	return filepath.Join(projectRoot, StagingDir, uuid.NewString()+".tmp")
}

// Inflight tracks virtual paths with an open staging write, so a
// concurrent stat/open on the same path can apply the DIRTY-bit
// fallback described in spec.md's S3 scenario: "observe the pre-commit
// state ... or read from the staging file, never partial content."
// Like the FD table and reentrancy guard, this is process-wide
// injected-layer state; it uses sync.Map rather than a general-purpose
// RWMutex (spec.md §9 defect #2).
type Inflight struct {
	byVP sync.Map // virtual path (string) -> staging path (string)
}

// NewInflight builds an empty in-flight write tracker.
func NewInflight() *Inflight {
	return &Inflight{}
}

// Open records that virtualPath's write-open is staged at stagingPath.
func (i *Inflight) Open(virtualPath, stagingPath string) {
	i.byVP.Store(virtualPath, stagingPath)
}

// StagingFor returns the staging path for virtualPath, if a write is
// currently in flight for it.
func (i *Inflight) StagingFor(virtualPath string) (string, bool) {
	v, ok := i.byVP.Load(virtualPath)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Close removes virtualPath's in-flight entry once the commit RPC has
// been acknowledged (spec.md §4.3.3 step 4: "On ACK, forget the FD
// entry").
func (i *Inflight) Close(virtualPath string) {
	i.byVP.Delete(virtualPath)
}
