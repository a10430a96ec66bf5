package main

import (
	"os"
	"sync"

	"github.com/cuemby/vrift/pkg/cas"
	"github.com/cuemby/vrift/pkg/client"
	"github.com/cuemby/vrift/pkg/vnode"
)

// rpcClient is dialed lazily: most intercepted calls never need the
// daemon (they resolve entirely from the mmapped VDir), so paying the
// dial cost at library-load time would tax every exec'd process for a
// round trip most of them never make.
var (
	rpcOnce   sync.Once
	rpcClient *client.Client
	rpcErr    error

	casOnce  sync.Once
	casStore *cas.Store
	casErr   error
)

func daemonClient() (*client.Client, error) {
	rpcOnce.Do(func() {
		sock := os.Getenv("VRIFT_SOCKET")
		if sock == "" {
			rpcErr = os.ErrNotExist
			return
		}
		rpcClient, rpcErr = client.Dial(sock, "libinception/1")
	})
	return rpcClient, rpcErr
}

func blobStore() (*cas.Store, error) {
	casOnce.Do(func() {
		root := os.Getenv("VRIFT_CAS_ROOT")
		if root == "" {
			casErr = os.ErrNotExist
			return
		}
		casStore, casErr = cas.Open(root)
	})
	return casStore, casErr
}

// casBlobPath resolves the real on-disk path of v's content blob, the
// target of a ServeFromCAS open redirect (spec.md §4.2.3).
func casBlobPath(v vnode.VNode) string {
	store, err := blobStore()
	if err != nil {
		return ""
	}
	return store.BlobPath(v.ContentHash, v.Size)
}

// commitRename performs an in-prefix rename of a VDir-HIT path as an
// atomic manifest RPC rather than a real filesystem rename, since the
// backing CAS blob never moves (spec.md §4.2.5's ManifestRenameRPC
// decision).
func commitRename(oldPath, newPath string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	return c.ManifestRename(oldPath, newPath)
}

// commitWrite hands a completed staging file off to the daemon's COMMIT
// path (spec.md §4.3.3): close-time bookkeeping for a StageWrite open
// calls this when the descriptor that open returned is closed.
func commitWrite(virtualPath, stagingPath string, size uint64, mtimeNs int64, mode uint32) (vnode.VNode, error) {
	c, err := daemonClient()
	if err != nil {
		return vnode.VNode{}, err
	}
	return c.ManifestReingest(virtualPath, stagingPath, size, mtimeNs, mode)
}
