package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrift/pkg/config"
	"github.com/cuemby/vrift/pkg/daemon"
	"github.com/cuemby/vrift/pkg/vnode"
	"github.com/cuemby/vrift/pkg/wire"
)

func startTestDaemon(t *testing.T) (*daemon.Daemon, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.Project.VFSPrefix = root
	cfg.Storage.TheSource = filepath.Join(root, ".vrift", "cas")

	d, err := daemon.Open(cfg)
	require.NoError(t, err)

	socketPath := filepath.Join(root, "vriftd.sock")
	srv, err := daemon.NewServer(d, socketPath)
	require.NoError(t, err)

	go srv.Serve()
	t.Cleanup(func() {
		srv.Stop()
		d.Close()
	})

	return d, socketPath
}

func testVNode(seed byte) vnode.VNode {
	var ch vnode.ContentHash
	for i := range ch {
		ch[i] = seed
	}
	return vnode.VNode{ContentHash: ch, Size: 7, MtimeSec: 1700000001, Mode: 0644}
}

func TestDialHandshake(t *testing.T) {
	_, socketPath := startTestDaemon(t)

	c, err := Dial(socketPath, "vrift-test/1")
	require.NoError(t, err)
	defer c.Close()
}

func TestManifestRoundTrip(t *testing.T) {
	_, socketPath := startTestDaemon(t)
	c, err := Dial(socketPath, "vrift-test/1")
	require.NoError(t, err)
	defer c.Close()

	v := testVNode(9)
	_, err = c.ManifestUpsert("/a.txt", v)
	require.NoError(t, err)

	got, found, err := c.ManifestGet("/a.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, v.ContentHash, got.ContentHash)

	require.NoError(t, c.ManifestRename("/a.txt", "/b.txt"))
	_, found, err = c.ManifestGet("/a.txt")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.ManifestRemove("/b.txt"))
	_, found, err = c.ManifestGet("/b.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestManifestListDir(t *testing.T) {
	_, socketPath := startTestDaemon(t)
	c, err := Dial(socketPath, "vrift-test/1")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ManifestUpsert("/dir/x.txt", testVNode(1))
	require.NoError(t, err)
	_, err = c.ManifestUpsert("/dir/y.txt", testVNode(2))
	require.NoError(t, err)

	entries, err := c.ManifestListDir("/dir")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/dir/x.txt", "/dir/y.txt"}, entries)
}

func TestStatus(t *testing.T) {
	_, socketPath := startTestDaemon(t)
	c, err := Dial(socketPath, "vrift-test/1")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ManifestUpsert("/a.txt", testVNode(3))
	require.NoError(t, err)

	gen, count, _, err := c.Status()
	require.NoError(t, err)
	require.NotZero(t, gen)
	require.Equal(t, uint32(1), count)
}

func TestRegisterWorkspace(t *testing.T) {
	_, socketPath := startTestDaemon(t)
	c, err := Dial(socketPath, "vrift-test/1")
	require.NoError(t, err)
	defer c.Close()

	id, err := c.RegisterWorkspace("/some/project")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestUnimplementedOpsReturnError(t *testing.T) {
	_, socketPath := startTestDaemon(t)
	c, err := Dial(socketPath, "vrift-test/1")
	require.NoError(t, err)
	defer c.Close()

	err = c.FlockAcquire("/a.txt", wire.FlockShared)
	require.Error(t, err)
}
