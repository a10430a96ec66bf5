package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStagingPathIsUniqueAndUnderStagingDir(t *testing.T) {
	a := StagingPath("/proj")
	b := StagingPath("/proj")

	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "/proj/"+StagingDir))
	require.True(t, strings.HasSuffix(a, ".tmp"))
}

func TestInflightOpenStagingForClose(t *testing.T) {
	inf := NewInflight()

	_, ok := inf.StagingFor("/proj/a.txt")
	require.False(t, ok)

	inf.Open("/proj/a.txt", "/proj/.vrift/staging/x.tmp")

	sp, ok := inf.StagingFor("/proj/a.txt")
	require.True(t, ok)
	require.Equal(t, "/proj/.vrift/staging/x.tmp", sp)

	inf.Close("/proj/a.txt")

	_, ok = inf.StagingFor("/proj/a.txt")
	require.False(t, ok)
}

func TestInflightIndependentPaths(t *testing.T) {
	inf := NewInflight()
	inf.Open("/proj/a.txt", "/stage/a.tmp")
	inf.Open("/proj/b.txt", "/stage/b.tmp")

	a, _ := inf.StagingFor("/proj/a.txt")
	b, _ := inf.StagingFor("/proj/b.txt")
	require.NotEqual(t, a, b)

	inf.Close("/proj/a.txt")
	_, ok := inf.StagingFor("/proj/a.txt")
	require.False(t, ok)
	_, ok = inf.StagingFor("/proj/b.txt")
	require.True(t, ok)
}
