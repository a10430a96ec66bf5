// Package client implements the Go-native half of the client<->daemon
// protocol described in spec.md §6.1: dialing a project's Unix domain
// socket, performing the handshake and workspace registration, issuing
// manifest/CAS/flock/spawn/protect requests, and maintaining the
// heartbeat that lets the daemon's watchdog detect a crashed client.
// Grounded on the teacher's pkg/worker heartbeat loop
// (heartbeatLoop/sendHeartbeat in worker.go), generalized from a
// gRPC stream to the bespoke frame protocol in pkg/wire.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/vrift/pkg/log"
	"github.com/cuemby/vrift/pkg/vrerr"
	"github.com/cuemby/vrift/pkg/wire"
)

// heartbeatInterval matches the daemon's watchdog window (spec.md §5:
// "heartbeat 10s / 3 missed -> disconnect").
const heartbeatInterval = 10 * time.Second

// Client is a single connection to one project's vriftd. Requests are
// serialized: the wire protocol is a strict one-request-in-flight
// request/response exchange per connection (spec.md §6.1), so Client
// holds one mutex around the send/receive round trip rather than a
// request-routing table keyed by seq_id.
type Client struct {
	conn net.Conn
	seq  *wire.SeqGenerator

	mu sync.Mutex

	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}
}

// Dial connects to the daemon's Unix domain socket at socketPath and
// performs the protocol handshake.
func Dial(socketPath string, clientVersion string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, vrerr.New("client.Dial", vrerr.Internal, socketPath, err)
	}

	c := &Client{
		conn:          conn,
		seq:           wire.NewSeqGenerator(),
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}

	if _, err := c.call(wire.Handshake{ClientVersion: clientVersion, ProtocolVersion: wire.ProtocolVersion}); err != nil {
		conn.Close()
		return nil, err
	}

	go c.heartbeatLoop()
	return c, nil
}

// Close stops the heartbeat loop and closes the underlying connection.
func (c *Client) Close() error {
	close(c.stopHeartbeat)
	<-c.heartbeatDone
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// heartbeatLoop sends a heartbeat frame every heartbeatInterval so the
// daemon's watchdog never treats this connection as gone while it's
// simply idle (spec.md §5).
func (c *Client) heartbeatLoop() {
	defer close(c.heartbeatDone)
	logger := log.WithComponent("client")
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := c.sendHeartbeat(); err != nil {
				logger.Warn().Err(err).Msg("heartbeat error")
				return
			}
		case <-c.stopHeartbeat:
			return
		}
	}
}

func (c *Client) sendHeartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqID := c.seq.Next()
	if err := wire.WriteFrame(c.conn, wire.Heartbeat(seqID)); err != nil {
		return err
	}
	f, err := wire.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if f.Type != wire.FrameHeartbeat {
		return fmt.Errorf("client: expected heartbeat echo, got frame type %d", f.Type)
	}
	return nil
}

// call performs one request/response round trip over the connection.
func (c *Client) call(req wire.Request) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	seqID := c.seq.Next()
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.FrameRequest, SeqID: seqID, Payload: payload}); err != nil {
		return nil, vrerr.New("client.call", vrerr.Internal, "", err)
	}

	for {
		f, err := wire.ReadFrame(c.conn)
		if err != nil {
			return nil, vrerr.New("client.call", vrerr.Internal, "", err)
		}
		if f.Type == wire.FrameHeartbeat {
			// An unsolicited heartbeat echo interleaved with our response;
			// the daemon never sends these unprompted, but skip defensively.
			continue
		}
		resp, err := wire.DecodeResponse(f.Payload)
		if err != nil {
			return nil, vrerr.New("client.call", vrerr.Internal, "", err)
		}
		return resp, nil
	}
}

// asResponse performs the call and converts a wire.Error response into
// a Go error carrying the matching vrerr.Kind.
func (c *Client) asResponse(req wire.Request) (wire.Response, error) {
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	if e, ok := resp.(wire.Error); ok {
		return nil, vrerr.New("client", vrerr.Kind(e.Kind), "", fmt.Errorf("%s", e.Message))
	}
	return resp, nil
}
