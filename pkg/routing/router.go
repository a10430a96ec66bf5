// Package routing implements the pure-Go syscall routing decision engine
// described in spec.md §4.2: path normalization, project-prefix
// anchoring, VDir consultation, and mutation-perimeter classification.
// It is the "policy" half of interposition; the cgo boundary that
// actually intercepts libc entry points (cmd/libinception) calls into
// this package for every decision and contains no policy of its own.
package routing

import (
	"strings"

	"github.com/cuemby/vrift/pkg/pathutil"
	"github.com/cuemby/vrift/pkg/vnode"
)

// CallKind classifies an intercepted libc entry point for routing
// purposes (spec.md §4.2.1's full interception table, grouped by
// behavior rather than listed one syscall at a time).
type CallKind uint8

const (
	CallMetadata  CallKind = iota // stat, lstat, fstat, fstatat, access, realpath...
	CallReadOpen                  // open/openat with O_RDONLY, readlink, readlinkat
	CallWriteOpen                 // open/openat with O_WRONLY or O_RDWR
	CallMutation                  // chmod, chown, unlink, truncate, utimes, xattr...
	CallLink                      // link, linkat
	CallRename                    // rename, renameat
	CallDirectory                 // opendir/readdir
)

// Decision is the routing engine's verdict for one intercepted call.
type Decision uint8

const (
	// Passthrough means the injected layer must call the real libc
	// entry point unmodified.
	Passthrough Decision = iota
	// ServeFromVDir means metadata should be synthesized from a VNode
	// without touching the real filesystem.
	ServeFromVDir
	// ServeFromCAS means the call should be redirected to open the
	// corresponding CAS blob in place of the virtual path.
	ServeFromCAS
	// Block means the mutation perimeter tripped; BlockErrno names the
	// errno to return (EPERM or EXDEV).
	Block
	// StageWrite means the open should be redirected to a private
	// staging file and the VDir DIRTY bit set.
	StageWrite
	// ManifestRenameRPC means an in-prefix rename of a VDir-HIT path
	// should be performed as an atomic manifest rename RPC.
	ManifestRenameRPC
	// DirectoryMerge means readdir results must merge the dir-index
	// enumeration with a real filesystem listing, deduplicated by name.
	DirectoryMerge
)

// BlockErrno is returned by Route alongside a Block decision.
type BlockErrno uint8

const (
	NoErrno BlockErrno = iota
	ErrnoEPERM
	ErrnoEXDEV
)

// VDirLookup abstracts the read side of pkg/vdir so this package can be
// unit tested without a real mmap (spec.md §6: "exhaustively unit
// tested in Go").
type VDirLookup interface {
	Lookup(path string) (vnode.VNode, bool, error)
}

// Router holds the project-scoped state needed to classify calls:
// the anchored project prefix and a handle to the VDir reader.
type Router struct {
	prefix string
	vdir   VDirLookup

	// writableSubtrees are relative path prefixes under which a fresh
	// write-open always stages, even without consulting the VDir
	// (spec.md §4.2.3: "or the target is in a writable subtree such as
	// build/`, `target/`").
	writableSubtrees []string
}

// New builds a Router anchored at the normalized project prefix.
func New(projectPrefix string, vdir VDirLookup, writableSubtrees ...string) *Router {
	return &Router{
		prefix:           pathutil.Normalize(projectPrefix),
		vdir:             vdir,
		writableSubtrees: writableSubtrees,
	}
}

// Result is the outcome of routing one call.
type Result struct {
	Decision Decision
	Errno    BlockErrno
	VNode    vnode.VNode // valid when Decision is ServeFromVDir or ServeFromCAS
}

// Route classifies call against path (already resolved relative to cwd
// by the caller, per spec.md §4.2.3 step 1). linkTarget is only
// meaningful for CallLink/CallRename and holds the other endpoint.
func (r *Router) Route(kind CallKind, path string, linkTarget string) Result {
	norm := pathutil.Normalize(path)

	if !r.inPrefix(norm) {
		// link/rename with one endpoint inside the prefix still trips
		// the cross-boundary rule even though this endpoint passes
		// through on its own (spec.md §4.2.5).
		if (kind == CallLink || kind == CallRename) && linkTarget != "" {
			otherNorm := pathutil.Normalize(linkTarget)
			if r.inPrefix(otherNorm) {
				return r.crossBoundaryResult(kind)
			}
		}
		return Result{Decision: Passthrough}
	}

	switch kind {
	case CallLink:
		// Every link with an endpoint in the prefix is EXDEV, full
		// stop — spec.md §4.2.5: "no VDir-resident file acquires
		// unexpected link counts."
		return Result{Decision: Block, Errno: ErrnoEXDEV}

	case CallRename:
		otherNorm := pathutil.Normalize(linkTarget)
		otherIn := r.inPrefix(otherNorm)
		if !otherIn {
			return Result{Decision: Block, Errno: ErrnoEXDEV}
		}
		if v, hit, err := r.vdir.Lookup(norm); err == nil && hit {
			return Result{Decision: ManifestRenameRPC, VNode: v}
		}
		return Result{Decision: Passthrough}

	case CallMetadata:
		v, hit, err := r.vdir.Lookup(norm)
		if err == nil && hit {
			return Result{Decision: ServeFromVDir, VNode: v}
		}
		return Result{Decision: Passthrough}

	case CallReadOpen:
		v, hit, err := r.vdir.Lookup(norm)
		if err == nil && hit {
			return Result{Decision: ServeFromCAS, VNode: v}
		}
		return Result{Decision: Passthrough}

	case CallMutation:
		if v, hit, err := r.vdir.Lookup(norm); err == nil && hit {
			return Result{Decision: Block, Errno: ErrnoEPERM, VNode: v}
		}
		return Result{Decision: Passthrough}

	case CallWriteOpen:
		// Spec.md §4.2.4: copy-up on an ingested file is explicitly out
		// of scope. A path under a declared writable subtree such as
		// build/ or target/ stages without consulting the VDir; otherwise
		// a VDir HIT blocks like any other mutation and a miss stages.
		if r.inWritableSubtree(norm) {
			return Result{Decision: StageWrite}
		}
		if v, hit, err := r.vdir.Lookup(norm); err == nil && hit {
			return Result{Decision: Block, Errno: ErrnoEPERM, VNode: v}
		}
		return Result{Decision: StageWrite}

	case CallDirectory:
		return Result{Decision: DirectoryMerge}

	default:
		return Result{Decision: Passthrough}
	}
}

// crossBoundaryResult handles a link/rename whose *other* endpoint is
// inside the project prefix even though the call's primary path is not
// (spec.md §4.2.5: both directions of a boundary-crossing link/rename
// are EXDEV).
func (r *Router) crossBoundaryResult(kind CallKind) Result {
	return Result{Decision: Block, Errno: ErrnoEXDEV}
}

func (r *Router) inPrefix(normPath string) bool {
	return pathutil.HasPrefix(normPath, r.prefix)
}

func (r *Router) inWritableSubtree(normPath string) bool {
	rel := strings.TrimPrefix(normPath, r.prefix)
	rel = strings.TrimPrefix(rel, "/")
	for _, sub := range r.writableSubtrees {
		if strings.HasPrefix(rel, sub) {
			return true
		}
	}
	return false
}
