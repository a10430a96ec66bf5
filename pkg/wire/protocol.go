package wire

import "github.com/cuemby/vrift/pkg/vnode"

// Request is the closed set of client->daemon payload variants named in
// spec.md §6.1.
type Request interface{ isRequest() }

// Response is the closed set of daemon->client payload variants named
// in spec.md §6.1.
type Response interface{ isResponse() }

type (
	Handshake struct {
		ClientVersion   string
		ProtocolVersion uint8
	}
	Status             struct{}
	RegisterWorkspace  struct{ ProjectRoot string }
	ManifestGet        struct{ Path string }
	ManifestUpsert     struct {
		Path  string
		VNode vnode.VNode
	}
	ManifestRemove struct{ Path string }
	ManifestRename struct{ Old, New string }
	ManifestUpdateMtime struct {
		Path    string
		MtimeNs int64
	}
	// ManifestReingest is the wire name for the COMMIT operation of
	// spec.md §4.3: the client hands the daemon a staged temp file to
	// hash, promote into CAS, and publish under vpath.
	ManifestReingest struct {
		VPath    string
		TempPath string
		Size     uint64
		MtimeNs  int64
		Mode     uint32
	}
	ManifestListDir struct{ Path string }
	CasInsert       struct {
		Hash vnode.ContentHash
		Size uint64
	}
	CasGet   struct{ Hash vnode.ContentHash }
	CasSweep struct{ Bloom []byte }
	FlockOp  uint8
	FlockAcquire struct {
		Path string
		Op   FlockOp
	}
	FlockRelease struct{ Path string }
	Spawn        struct {
		Cmd []string
		Env []string
		Cwd string
	}
	Protect struct {
		Path      string
		Immutable bool
		Owner     string
	}
)

const (
	FlockShared FlockOp = iota
	FlockExclusive
)

func (Handshake) isRequest()           {}
func (Status) isRequest()              {}
func (RegisterWorkspace) isRequest()   {}
func (ManifestGet) isRequest()         {}
func (ManifestUpsert) isRequest()      {}
func (ManifestRemove) isRequest()      {}
func (ManifestRename) isRequest()      {}
func (ManifestUpdateMtime) isRequest() {}
func (ManifestReingest) isRequest()    {}
func (ManifestListDir) isRequest()     {}
func (CasInsert) isRequest()           {}
func (CasGet) isRequest()              {}
func (CasSweep) isRequest()            {}
func (FlockAcquire) isRequest()        {}
func (FlockRelease) isRequest()        {}
func (Spawn) isRequest()               {}
func (Protect) isRequest()             {}

type (
	HandshakeAck struct{ ServerVersion string }
	StatusAck    struct {
		Generation  uint64
		EntryCount  uint32
		CasRootFree uint64
	}
	RegisterAck struct{ WorkspaceID string }
	ManifestAck struct {
		Entry *vnode.VNode // nil means "no entry" (Option<VNode>, spec.md §6.1)
	}
	ManifestListAck struct{ Entries []string }
	CasFound        struct{ Size uint64 }
	CasNotFound     struct{}
	CasAck          struct{}
	// Error mirrors spec.md §7's closed error-kind table; Kind is one of
	// the string values in pkg/vrerr.Kind.
	Error struct {
		Kind    string
		Message string
	}
)

func (HandshakeAck) isResponse()    {}
func (StatusAck) isResponse()       {}
func (RegisterAck) isResponse()     {}
func (ManifestAck) isResponse()     {}
func (ManifestListAck) isResponse() {}
func (CasFound) isResponse()        {}
func (CasNotFound) isResponse()     {}
func (CasAck) isResponse()          {}
func (Error) isResponse()           {}
