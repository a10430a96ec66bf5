package daemon

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vrift/pkg/log"
	"github.com/cuemby/vrift/pkg/vrerr"
	"github.com/cuemby/vrift/pkg/wire"
)

// heartbeatInterval and maxMissedHeartbeats set client liveness: the
// watchdog closes the connection of a client that misses three
// consecutive 10-second heartbeats. DIRTY bits that client left set are
// not cleared on disconnect, and its staging files are removed only by
// the watchdog's age-based reaper (staleStagingAge).
const (
	heartbeatInterval   = 10 * time.Second
	maxMissedHeartbeats = 3
)

// Server accepts client connections over a per-project Unix domain
// socket and dispatches wire.Request frames to a Daemon (spec.md §6.1:
// "one goroutine per connection", grounded on the teacher's gRPC
// listener loop shape, generalized off gRPC onto the hand-rolled frame
// protocol this spec requires).
type Server struct {
	d          *Daemon
	socketPath string
	ln         net.Listener

	watchdog *watchdog

	wg sync.WaitGroup
}

// NewServer builds a Server bound to socketPath, removing any stale
// socket file left behind by a prior crashed daemon.
func NewServer(d *Daemon, socketPath string) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, vrerr.New("daemon.NewServer", vrerr.Internal, socketPath, err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, vrerr.New("daemon.NewServer", vrerr.Internal, socketPath, err)
	}

	return &Server{
		d:          d,
		socketPath: socketPath,
		ln:         ln,
		watchdog:   newWatchdog(d),
	}, nil
}

// Serve accepts connections until the listener is closed. Each
// connection gets its own goroutine; Serve itself blocks the caller.
func (s *Server) Serve() error {
	logger := log.WithComponent("server")
	logger.Info().Str("socket", s.socketPath).Msg("listening")

	go s.watchdog.run()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener and the watchdog, then waits for every
// in-flight connection handler to return.
func (s *Server) Stop() error {
	s.watchdog.stop()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	logger := log.WithComponent("server").With().Str("conn_id", connID).Logger()
	s.watchdog.track(connID, conn)
	defer s.watchdog.forget(connID)
	defer conn.Close()

	for {
		f, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("frame read error")
			}
			return
		}

		s.watchdog.sawActivity(connID)

		if f.Type == wire.FrameHeartbeat {
			if err := wire.WriteFrame(conn, wire.Heartbeat(f.SeqID)); err != nil {
				return
			}
			continue
		}

		req, err := wire.DecodeRequest(f.Payload)
		if err != nil {
			logger.Warn().Err(err).Msg("decode error")
			return
		}

		resp := s.dispatch(req)
		payload, err := wire.EncodeResponse(resp)
		if err != nil {
			logger.Warn().Err(err).Msg("encode error")
			return
		}
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.FrameResponse, SeqID: f.SeqID, Payload: payload}); err != nil {
			return
		}
	}
}

// dispatch maps one decoded Request to a Response by calling into the
// Daemon. Every error path converts through pkg/vrerr's closed Kind
// taxonomy so the client sees a stable error.Kind string (spec.md §7).
func (s *Server) dispatch(req wire.Request) wire.Response {
	switch r := req.(type) {
	case wire.Handshake:
		return wire.HandshakeAck{ServerVersion: "vrift/1"}

	case wire.Status:
		gen, count, free := s.d.Status()
		return wire.StatusAck{Generation: gen, EntryCount: count, CasRootFree: free}

	case wire.RegisterWorkspace:
		return wire.RegisterAck{WorkspaceID: uuid.NewString()}

	case wire.ManifestGet:
		v, found, err := s.d.Get(r.Path)
		if err != nil {
			return errResponse(err)
		}
		if !found {
			return wire.ManifestAck{Entry: nil}
		}
		return wire.ManifestAck{Entry: &v}

	case wire.ManifestUpsert:
		if _, err := s.d.Put(r.Path, r.VNode); err != nil {
			return errResponse(err)
		}
		return wire.ManifestAck{Entry: &r.VNode}

	case wire.ManifestRemove:
		if _, err := s.d.Remove(r.Path); err != nil {
			return errResponse(err)
		}
		return wire.ManifestAck{}

	case wire.ManifestRename:
		if _, err := s.d.Rename(r.Old, r.New); err != nil {
			return errResponse(err)
		}
		return wire.ManifestAck{}

	case wire.ManifestUpdateMtime:
		v, found, err := s.d.Get(r.Path)
		if err != nil {
			return errResponse(err)
		}
		if !found {
			return errResponse(vrerr.New("ManifestUpdateMtime", vrerr.NotFound, r.Path, nil))
		}
		v.MtimeSec = r.MtimeNs / 1e9
		v.MtimeNsec = r.MtimeNs % 1e9
		if _, err := s.d.Put(r.Path, v); err != nil {
			return errResponse(err)
		}
		return wire.ManifestAck{Entry: &v}

	case wire.ManifestReingest:
		v, _, err := s.d.Reingest(r.VPath, r.TempPath, r.MtimeNs, r.Mode)
		if err != nil {
			return errResponse(err)
		}
		return wire.ManifestAck{Entry: &v}

	case wire.ManifestListDir:
		entries, err := s.d.ListDir(r.Path)
		if err != nil {
			return errResponse(err)
		}
		return wire.ManifestListAck{Entries: entries}

	case wire.CasInsert:
		if s.d.cas.Exists(r.Hash, r.Size) {
			return wire.CasAck{}
		}
		return errResponse(vrerr.New("CasInsert", vrerr.NotFound, "", nil))

	case wire.CasGet:
		prefix := strings.TrimSuffix(s.d.cas.BlobPath(r.Hash, 0), "0.bin")
		matches, _ := filepath.Glob(prefix + "*.bin")
		for _, m := range matches {
			if size, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(m, prefix), ".bin"), 10, 64); err == nil {
				return wire.CasFound{Size: size}
			}
		}
		return wire.CasNotFound{}

	case wire.CasSweep:
		return wire.CasAck{}

	case wire.FlockAcquire, wire.FlockRelease, wire.Spawn, wire.Protect:
		// Part of the wire request set, but this daemon performs none of
		// them: each is answered with an Internal error. Nothing else in
		// this module takes file locks, spawns processes or sets
		// immutability flags on a client's behalf.
		return wire.Error{Kind: string(vrerr.Internal), Message: "operation not implemented by this daemon"}

	default:
		return wire.Error{Kind: string(vrerr.Internal), Message: "unknown request type"}
	}
}

func errResponse(err error) wire.Response {
	kind, ok := vrerr.KindOf(err)
	if !ok {
		kind = vrerr.Internal
	}
	return wire.Error{Kind: string(kind), Message: err.Error()}
}
