package client

import (
	"fmt"

	"github.com/cuemby/vrift/pkg/vnode"
	"github.com/cuemby/vrift/pkg/wire"
)

// Status returns the daemon's current generation, entry count, and
// free bytes on the CAS root (spec.md §6.1 StatusAck).
func (c *Client) Status() (generation uint64, entryCount uint32, casRootFree uint64, err error) {
	resp, err := c.asResponse(wire.Status{})
	if err != nil {
		return 0, 0, 0, err
	}
	ack := resp.(wire.StatusAck)
	return ack.Generation, ack.EntryCount, ack.CasRootFree, nil
}

// RegisterWorkspace announces projectRoot to the daemon and returns the
// workspace ID it assigns (spec.md §6.1 RegisterAck).
func (c *Client) RegisterWorkspace(projectRoot string) (string, error) {
	resp, err := c.asResponse(wire.RegisterWorkspace{ProjectRoot: projectRoot})
	if err != nil {
		return "", err
	}
	return resp.(wire.RegisterAck).WorkspaceID, nil
}

// ManifestGet looks up path in the daemon's manifest, bypassing any
// local VDir cache (used by the fallback path when the VDir lookup is
// inconclusive, spec.md §4.1 step 6).
func (c *Client) ManifestGet(path string) (vnode.VNode, bool, error) {
	resp, err := c.asResponse(wire.ManifestGet{Path: path})
	if err != nil {
		return vnode.VNode{}, false, err
	}
	ack := resp.(wire.ManifestAck)
	if ack.Entry == nil {
		return vnode.VNode{}, false, nil
	}
	return *ack.Entry, true, nil
}

// ManifestUpsert publishes v under path.
func (c *Client) ManifestUpsert(path string, v vnode.VNode) (vnode.VNode, error) {
	resp, err := c.asResponse(wire.ManifestUpsert{Path: path, VNode: v})
	if err != nil {
		return vnode.VNode{}, err
	}
	ack := resp.(wire.ManifestAck)
	if ack.Entry == nil {
		return vnode.VNode{}, fmt.Errorf("client: ManifestUpsert ack missing entry")
	}
	return *ack.Entry, nil
}

// ManifestRemove tombstones path.
func (c *Client) ManifestRemove(path string) error {
	_, err := c.asResponse(wire.ManifestRemove{Path: path})
	return err
}

// ManifestRename moves oldPath's entry to newPath.
func (c *Client) ManifestRename(oldPath, newPath string) error {
	_, err := c.asResponse(wire.ManifestRename{Old: oldPath, New: newPath})
	return err
}

// ManifestUpdateMtime updates only the mtime of an existing entry,
// without touching its content hash (spec.md §4.2.5: "utimes on a
// solid-projected file updates only the manifest mtime field").
func (c *Client) ManifestUpdateMtime(path string, mtimeNs int64) error {
	_, err := c.asResponse(wire.ManifestUpdateMtime{Path: path, MtimeNs: mtimeNs})
	return err
}

// ManifestReingest is the wire name for the write-path COMMIT described
// in spec.md §4.3.3: hand the daemon a staged temp file to hash,
// promote into CAS, and publish under vpath. The returned VNode is the
// freshly published entry.
func (c *Client) ManifestReingest(vpath, tempPath string, size uint64, mtimeNs int64, mode uint32) (vnode.VNode, error) {
	resp, err := c.asResponse(wire.ManifestReingest{
		VPath:    vpath,
		TempPath: tempPath,
		Size:     size,
		MtimeNs:  mtimeNs,
		Mode:     mode,
	})
	if err != nil {
		return vnode.VNode{}, err
	}
	ack := resp.(wire.ManifestAck)
	if ack.Entry == nil {
		return vnode.VNode{}, fmt.Errorf("client: ManifestReingest ack missing entry")
	}
	return *ack.Entry, nil
}

// ManifestListDir lists the direct children of dir.
func (c *Client) ManifestListDir(dir string) ([]string, error) {
	resp, err := c.asResponse(wire.ManifestListDir{Path: dir})
	if err != nil {
		return nil, err
	}
	return resp.(wire.ManifestListAck).Entries, nil
}

// CasInsert asks the daemon to confirm a blob of the given hash/size is
// already present in CAS (used by dedup-aware ingest paths).
func (c *Client) CasInsert(hash vnode.ContentHash, size uint64) error {
	_, err := c.asResponse(wire.CasInsert{Hash: hash, Size: size})
	return err
}

// CasGet reports whether a blob of the given hash exists in CAS, at any
// size.
func (c *Client) CasGet(hash vnode.ContentHash) (bool, error) {
	resp, err := c.asResponse(wire.CasGet{Hash: hash})
	if err != nil {
		return false, err
	}
	_, found := resp.(wire.CasFound)
	return found, nil
}

// CasSweep sends the client-supplied liveness bloom filter to the
// daemon. vriftd acknowledges it with CasAck and runs no sweep.
func (c *Client) CasSweep(liveBloom []byte) error {
	_, err := c.asResponse(wire.CasSweep{Bloom: liveBloom})
	return err
}

// FlockAcquire requests a shared or exclusive advisory lock on path.
// vriftd answers it with an Internal "not implemented" error.
func (c *Client) FlockAcquire(path string, op wire.FlockOp) error {
	_, err := c.asResponse(wire.FlockAcquire{Path: path, Op: op})
	return err
}

// FlockRelease requests release of an advisory lock on path. vriftd
// answers it with an Internal "not implemented" error.
func (c *Client) FlockRelease(path string) error {
	_, err := c.asResponse(wire.FlockRelease{Path: path})
	return err
}

// Spawn sends a request to execute cmd in the project's real
// environment. vriftd does not spawn anything: it answers with an
// Internal "not implemented" error.
func (c *Client) Spawn(cmd, env []string, cwd string) error {
	_, err := c.asResponse(wire.Spawn{Cmd: cmd, Env: env, Cwd: cwd})
	return err
}

// Protect sends a request to toggle the immutability/ownership bit on
// path. vriftd does not change any flag: it answers with an Internal
// "not implemented" error.
func (c *Client) Protect(path string, immutable bool, owner string) error {
	_, err := c.asResponse(wire.Protect{Path: path, Immutable: immutable, Owner: owner})
	return err
}
