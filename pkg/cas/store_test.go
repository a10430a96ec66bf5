package cas

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeStaging(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "staging-"+content[:min(4, len(content))]+"-file")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestIngestProducesLowercaseHexPath(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	stagingDir := t.TempDir()
	src := writeStaging(t, stagingDir, "hello, vrift")

	hash, size, err := s.Ingest(src)
	require.NoError(t, err)
	require.EqualValues(t, len("hello, vrift"), size)

	path := s.BlobPath(hash, size)
	rel, err := filepath.Rel(root, path)
	require.NoError(t, err)

	re := regexp.MustCompile(`^blake3/[0-9a-f]{2}/[0-9a-f]{64}_[0-9]+\.bin$`)
	require.Regexp(t, re, filepath.ToSlash(rel))

	require.True(t, s.Exists(hash, size))
	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err), "staging file should be consumed")
}

func TestIngestIdempotentDedup(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	stagingDir := t.TempDir()

	src1 := writeStaging(t, stagingDir, "duplicate content")
	h1, sz1, err := s.Ingest(src1)
	require.NoError(t, err)

	src2 := writeStaging(t, stagingDir, "duplicate content")
	h2, sz2, err := s.Ingest(src2)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.Equal(t, sz1, sz2)

	f, err := s.OpenBlob(h1, sz1)
	require.NoError(t, err)
	defer f.Close()
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	require.Equal(t, "duplicate content", string(data))
}

func TestHashFileMatchesBlobContent(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	stagingDir := t.TempDir()
	src := writeStaging(t, stagingDir, "the quick brown fox")

	hash, size, err := s.Ingest(src)
	require.NoError(t, err)

	gotHash, gotSize, err := HashFile(s.BlobPath(hash, size))
	require.NoError(t, err)
	require.Equal(t, hash, gotHash)
	require.Equal(t, size, gotSize)
}

func TestSweepRemovesOnlyStaleBlobs(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	stagingDir := t.TempDir()
	oldSrc := writeStaging(t, stagingDir, "old content")
	oldHash, oldSize, err := s.Ingest(oldSrc)
	require.NoError(t, err)

	oldPath := s.BlobPath(oldHash, oldSize)
	old := time.Now().Add(-1 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))

	newSrc := writeStaging(t, stagingDir, "fresh content")
	newHash, newSize, err := s.Ingest(newSrc)
	require.NoError(t, err)

	res, err := s.Sweep(10*time.Minute, true)
	require.NoError(t, err)
	require.Equal(t, 1, res.Removed)

	require.False(t, s.Exists(oldHash, oldSize))
	require.True(t, s.Exists(newHash, newSize))
}

func TestSweepDryRunDeletesNothing(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	stagingDir := t.TempDir()
	src := writeStaging(t, stagingDir, "dry run content")
	hash, size, err := s.Ingest(src)
	require.NoError(t, err)

	path := s.BlobPath(hash, size)
	old := time.Now().Add(-1 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	res, err := s.Sweep(time.Minute, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stale)
	require.Equal(t, 0, res.Removed)
	require.True(t, s.Exists(hash, size))
}

func TestSweepIdempotence(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)

	stagingDir := t.TempDir()
	src := writeStaging(t, stagingDir, "sweep twice")
	hash, size, err := s.Ingest(src)
	require.NoError(t, err)

	path := s.BlobPath(hash, size)
	old := time.Now().Add(-1 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	first, err := s.Sweep(time.Minute, true)
	require.NoError(t, err)
	require.Equal(t, 1, first.Removed)

	second, err := s.Sweep(time.Minute, true)
	require.NoError(t, err)
	require.Equal(t, 0, second.Removed)
}
