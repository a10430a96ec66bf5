package vnode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentHashStringIsLowercase(t *testing.T) {
	var h ContentHash
	for i := range h {
		h[i] = 0xAB
	}
	s := h.String()
	require.Len(t, s, 64)
	require.Regexp(t, `^[0-9a-f]{64}$`, s)
}

func TestVNodeRoundTrip(t *testing.T) {
	v := VNode{
		Size:      12345,
		MtimeSec:  1700000000,
		MtimeNsec: 123456789,
		Mode:      0644,
		Flags:     FlagDirty | FlagDir,
	}
	for i := range v.ContentHash {
		v.ContentHash[i] = byte(i)
	}

	buf := v.MarshalBinary()
	require.Len(t, buf, 64)

	got, err := UnmarshalVNode(buf)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestFlagsHas(t *testing.T) {
	f := FlagDirty | FlagSymlink
	require.True(t, f.Has(FlagDirty))
	require.True(t, f.Has(FlagSymlink))
	require.False(t, f.Has(FlagDir))
	require.False(t, f.Has(FlagDeleted))
}

func TestUnmarshalShortBuffer(t *testing.T) {
	_, err := UnmarshalVNode(make([]byte, 10))
	require.Error(t, err)
}
