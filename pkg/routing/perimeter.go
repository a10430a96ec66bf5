package routing

import "syscall"

// Errno converts a BlockErrno into the concrete syscall.Errno the
// injected layer must set before returning -1 to the caller (spec.md
// §4.2.7's error-semantics table).
func (e BlockErrno) Errno() syscall.Errno {
	switch e {
	case ErrnoEPERM:
		return syscall.EPERM
	case ErrnoEXDEV:
		return syscall.EXDEV
	default:
		return 0
	}
}

// syscallKinds maps every libc entry point named in spec.md §4.2.1 to
// the CallKind that drives routing. This is the table cmd/libinception
// consults before calling Router.Route; it is declared statically, not
// dispatched polymorphically (spec.md §9: "no polymorphism on the hot
// path").
var syscallKinds = map[string]CallKind{
	"stat":        CallMetadata,
	"lstat":       CallMetadata,
	"fstat":       CallMetadata,
	"fstatat":     CallMetadata,
	"access":      CallMetadata,
	"readlink":    CallReadOpen,
	"readlinkat":  CallReadOpen,
	"realpath":    CallMetadata,
	"open":        CallWriteOpen, // refined to CallReadOpen by flag inspection; see ClassifyOpen
	"openat":      CallWriteOpen,
	"opendir":     CallDirectory,
	"readdir":     CallDirectory,
	"closedir":    CallDirectory,
	"unlink":      CallMutation,
	"unlinkat":    CallMutation,
	"rename":      CallRename,
	"renameat":    CallRename,
	"link":        CallLink,
	"linkat":      CallLink,
	"symlink":     CallMutation,
	"symlinkat":   CallMutation,
	"mkdir":       CallMutation,
	"mkdirat":     CallMutation,
	"rmdir":       CallMutation,
	"chmod":       CallMutation,
	"fchmod":      CallMutation,
	"fchmodat":    CallMutation,
	"chown":       CallMutation,
	"lchown":      CallMutation,
	"fchown":      CallMutation,
	"fchownat":    CallMutation,
	"truncate":    CallMutation,
	"ftruncate":   CallMutation,
	"utimes":      CallMutation,
	"futimes":     CallMutation,
	"utimensat":   CallMutation,
	"setxattr":    CallMutation,
	"removexattr": CallMutation,
	"chflags":     CallMutation,
	"fchflags":    CallMutation,
	"sendfile":    CallMutation,
	"write":       CallMutation,
	"writev":      CallMutation,
	"pwrite":      CallMutation,
	"pwritev":     CallMutation,
}

// ClassifyCall resolves the static CallKind for a libc symbol name. ok
// is false for any symbol outside spec.md §4.2.1's interception table
// (the caller must passthrough such calls unconditionally).
func ClassifyCall(symbol string) (CallKind, bool) {
	k, ok := syscallKinds[symbol]
	return k, ok
}

// OpenFlags mirrors the POSIX O_* bits relevant to classifying an
// open/openat call; cmd/libinception translates the platform's raw
// flags int into this before calling ClassifyOpen.
type OpenFlags struct {
	WriteOnly bool // O_WRONLY
	ReadWrite bool // O_RDWR
	Create    bool // O_CREAT
}

// ClassifyOpen refines the generic "open" table entry using the actual
// flags passed by the caller (spec.md §4.2.3: "open(O_RDONLY)" is a
// read op; "O_WRONLY/O_RDWR" is a write-open).
func ClassifyOpen(flags OpenFlags) CallKind {
	if flags.WriteOnly || flags.ReadWrite {
		return CallWriteOpen
	}
	return CallReadOpen
}
