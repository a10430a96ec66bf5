package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vrift/pkg/vnode"
)

func TestFrameRoundTrip(t *testing.T) {
	payload, err := EncodeRequest(ManifestGet{Path: "/a/b.go"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Type: FrameRequest, SeqID: 7, Payload: payload}))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameRequest, got.Type)
	require.Equal(t, uint32(7), got.SeqID)

	req, err := DecodeRequest(got.Payload)
	require.NoError(t, err)
	mg, ok := req.(ManifestGet)
	require.True(t, ok)
	require.Equal(t, "/a/b.go", mg.Path)
}

func TestHeartbeatFrameHasZeroLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Heartbeat(42)))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameHeartbeat, got.Type)
	require.Equal(t, uint32(42), got.SeqID)
	require.Empty(t, got.Payload)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'X', 'X', 0x04, 0, 0, 0, 0, 0, 0, 0, 0, 0})

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{'V', 'R', 0x04, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	hdr[4] = 0xff
	hdr[5] = 0xff
	hdr[6] = 0xff
	hdr[7] = 0xff
	buf.Write(hdr)

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestEncodeDecodeResponseVariants(t *testing.T) {
	v := vnode.VNode{Size: 10, Mode: 0644}
	payload, err := EncodeResponse(ManifestAck{Entry: &v})
	require.NoError(t, err)

	resp, err := DecodeResponse(payload)
	require.NoError(t, err)
	ack, ok := resp.(ManifestAck)
	require.True(t, ok)
	require.NotNil(t, ack.Entry)
	require.Equal(t, uint64(10), ack.Entry.Size)

	errPayload, err := EncodeResponse(Error{Kind: "NotFound", Message: "no such path"})
	require.NoError(t, err)
	errResp, err := DecodeResponse(errPayload)
	require.NoError(t, err)
	e, ok := errResp.(Error)
	require.True(t, ok)
	require.Equal(t, "NotFound", e.Kind)
}

func TestSeqGeneratorMonotonic(t *testing.T) {
	g := NewSeqGenerator()
	a := g.Next()
	b := g.Next()
	require.NotEqual(t, a, b)
}
