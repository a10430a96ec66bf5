package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Payload encoding uses encoding/gob (stdlib): the pack carries no
// lightweight binary struct codec outside protobuf/grpc, which this
// protocol deliberately avoids (spec.md §6.1 specifies a hand-rolled
// frame, not a gRPC service; see DESIGN.md for the drop rationale).
func init() {
	gob.Register(Handshake{})
	gob.Register(Status{})
	gob.Register(RegisterWorkspace{})
	gob.Register(ManifestGet{})
	gob.Register(ManifestUpsert{})
	gob.Register(ManifestRemove{})
	gob.Register(ManifestRename{})
	gob.Register(ManifestUpdateMtime{})
	gob.Register(ManifestReingest{})
	gob.Register(ManifestListDir{})
	gob.Register(CasInsert{})
	gob.Register(CasGet{})
	gob.Register(CasSweep{})
	gob.Register(FlockAcquire{})
	gob.Register(FlockRelease{})
	gob.Register(Spawn{})
	gob.Register(Protect{})

	gob.Register(HandshakeAck{})
	gob.Register(StatusAck{})
	gob.Register(RegisterAck{})
	gob.Register(ManifestAck{})
	gob.Register(ManifestListAck{})
	gob.Register(CasFound{})
	gob.Register(CasNotFound{})
	gob.Register(CasAck{})
	gob.Register(Error{})
}

// requestEnvelope and responseEnvelope hold the payload as an interface
// field so gob can encode/decode the concrete variant by its registered
// type name.
type requestEnvelope struct{ Req Request }
type responseEnvelope struct{ Resp Response }

// EncodeRequest serializes req into a frame payload.
func EncodeRequest(req Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(requestEnvelope{Req: req}); err != nil {
		return nil, fmt.Errorf("wire: encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest parses a frame payload produced by EncodeRequest.
func DecodeRequest(payload []byte) (Request, error) {
	var env requestEnvelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, fmt.Errorf("wire: decode request: %w", err)
	}
	return env.Req, nil
}

// EncodeResponse serializes resp into a frame payload.
func EncodeResponse(resp Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(responseEnvelope{Resp: resp}); err != nil {
		return nil, fmt.Errorf("wire: encode response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse parses a frame payload produced by EncodeResponse.
func DecodeResponse(payload []byte) (Response, error) {
	var env responseEnvelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, fmt.Errorf("wire: decode response: %w", err)
	}
	return env.Resp, nil
}
