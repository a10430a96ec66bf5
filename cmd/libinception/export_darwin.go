//go:build darwin

package main

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <fcntl.h>
#include <sys/stat.h>
#include <pthread.h>
#include <errno.h>
#include <stdlib.h>
#include <string.h>

typedef int (*open_fn)(const char *, int, mode_t);
typedef int (*stat_fn)(const char *, struct stat *);
typedef int (*fstat_fn)(int, struct stat *);
typedef int (*close_fn)(int);
typedef int (*unlink_fn)(const char *);
typedef int (*rename_fn)(const char *, const char *);
typedef int (*link_fn)(const char *, const char *);

static open_fn real_open;
static stat_fn real_stat;
static fstat_fn real_fstat;
static close_fn real_close;
static unlink_fn real_unlink;
static rename_fn real_rename;
static link_fn real_link;

static void resolve_real_symbols(void) {
	real_open   = (open_fn)dlsym(RTLD_NEXT, "open");
	real_stat   = (stat_fn)dlsym(RTLD_NEXT, "stat");
	real_fstat  = (fstat_fn)dlsym(RTLD_NEXT, "fstat");
	real_close  = (close_fn)dlsym(RTLD_NEXT, "close");
	real_unlink = (unlink_fn)dlsym(RTLD_NEXT, "unlink");
	real_rename = (rename_fn)dlsym(RTLD_NEXT, "rename");
	real_link   = (link_fn)dlsym(RTLD_NEXT, "link");
}

static int call_real_open(const char *path, int flags, mode_t mode) {
	return real_open(path, flags, mode);
}
static int call_real_stat(const char *path, struct stat *buf) {
	return real_stat(path, buf);
}
static int call_real_fstat(int fd, struct stat *buf) {
	return real_fstat(fd, buf);
}
static int call_real_close(int fd) {
	return real_close(fd);
}
static int call_real_unlink(const char *path) {
	return real_unlink(path);
}
static int call_real_rename(const char *old, const char *newp) {
	return real_rename(old, newp);
}
static int call_real_link(const char *old, const char *newp) {
	return real_link(old, newp);
}

static unsigned long long current_tid(void) {
	unsigned long long tid = 0;
	pthread_threadid_np(NULL, &tid);
	return tid;
}

static void set_errno(int e) {
	errno = e;
}

static void fill_stat_mode_size(struct stat *buf, mode_t mode, off_t size, long mtime_sec) {
	memset(buf, 0, sizeof(*buf));
	buf->st_mode = mode;
	buf->st_size = size;
	buf->st_mtimespec.tv_sec = mtime_sec;
	buf->st_nlink = 1;
}
*/
import "C"

import (
	"unsafe"

	"github.com/cuemby/vrift/pkg/routing"
	"github.com/cuemby/vrift/pkg/vnode"
)

func init() {
	C.resolve_real_symbols()
}

// threadID mirrors export_linux.go's gettid-based key, using the
// Darwin-native pthread_threadid_np since Darwin has no gettid(2)
// (spec.md §4.2.2's reentrancy guard needs some stable per-thread key;
// which syscall supplies it is the only platform-specific part of that
// contract).
func threadID() uint64 {
	return uint64(C.current_tid())
}

//export open
func open(path *C.char, flags C.int, mode C.mode_t) C.int {
	tid := threadID()
	reentrant, active := enter(tid)
	if reentrant || !active {
		return C.call_real_open(path, flags, mode)
	}
	defer exit(tid)

	goPath := C.GoString(path)
	kind := routing.ClassifyOpen(routing.OpenFlags{
		WriteOnly: flags&C.O_WRONLY != 0,
		ReadWrite: flags&C.O_RDWR != 0,
		Create:    flags&C.O_CREAT != 0,
	})
	res := state.router.Route(kind, goPath, "")

	switch res.Decision {
	case routing.ServeFromCAS:
		blobPath := casBlobPath(res.VNode)
		cPath := C.CString(blobPath)
		defer C.free(unsafe.Pointer(cPath))
		fd := C.call_real_open(cPath, C.O_RDONLY, 0)
		if fd >= 0 {
			state.fdtable.Claim(int(fd), res.VNode)
		}
		return fd
	case routing.Block:
		C.set_errno(C.int(res.Errno.Errno()))
		return -1
	case routing.StageWrite:
		stagingPath := routing.StagingPath(state.projectDir)
		cPath := C.CString(stagingPath)
		defer C.free(unsafe.Pointer(cPath))
		fd := C.call_real_open(cPath, flags|C.O_CREAT, 0644)
		if fd >= 0 {
			state.inflight.Open(goPath, stagingPath)
			state.stagedByFD.Store(int(fd), goPath)
		}
		return fd
	default:
		return C.call_real_open(path, flags, mode)
	}
}

//export stat
func stat(path *C.char, buf *C.struct_stat) C.int {
	tid := threadID()
	reentrant, active := enter(tid)
	if reentrant || !active {
		return C.call_real_stat(path, buf)
	}
	defer exit(tid)

	res := state.router.Route(routing.CallMetadata, C.GoString(path), "")
	if res.Decision == routing.ServeFromVDir {
		fillStat(buf, res.VNode)
		return 0
	}
	return C.call_real_stat(path, buf)
}

//export unlink
func unlink(path *C.char) C.int {
	tid := threadID()
	reentrant, active := enter(tid)
	if reentrant || !active {
		return C.call_real_unlink(path)
	}
	defer exit(tid)

	res := state.router.Route(routing.CallMutation, C.GoString(path), "")
	if res.Decision == routing.Block {
		C.set_errno(C.int(res.Errno.Errno()))
		return -1
	}
	return C.call_real_unlink(path)
}

//export rename
func rename(oldpath, newpath *C.char) C.int {
	tid := threadID()
	reentrant, active := enter(tid)
	if reentrant || !active {
		return C.call_real_rename(oldpath, newpath)
	}
	defer exit(tid)

	goOld, goNew := C.GoString(oldpath), C.GoString(newpath)
	res := state.router.Route(routing.CallRename, goOld, goNew)
	switch res.Decision {
	case routing.Block:
		C.set_errno(C.int(res.Errno.Errno()))
		return -1
	case routing.ManifestRenameRPC:
		if err := commitRename(goOld, goNew); err != nil {
			C.set_errno(C.EIO)
			return -1
		}
		return 0
	default:
		return C.call_real_rename(oldpath, newpath)
	}
}

//export close
func close(fd C.int) C.int {
	tid := threadID()
	reentrant, active := enter(tid)
	if reentrant || !active {
		return C.call_real_close(fd)
	}
	defer exit(tid)

	if vp, ok := state.stagedByFD.LoadAndDelete(int(fd)); ok {
		virtualPath := vp.(string)
		if stagingPath, ok := state.inflight.StagingFor(virtualPath); ok {
			var buf C.struct_stat
			var size uint64
			var mtimeNs int64
			if C.call_real_fstat(fd, &buf) == 0 {
				size = uint64(buf.st_size)
				mtimeNs = int64(buf.st_mtimespec.tv_sec) * 1e9
			}
			if _, err := commitWrite(virtualPath, stagingPath, size, mtimeNs, uint32(buf.st_mode&0777)); err == nil {
				state.inflight.Close(virtualPath)
			}
		}
	} else {
		state.fdtable.Release(int(fd))
	}
	return C.call_real_close(fd)
}

//export link
func link(oldpath, newpath *C.char) C.int {
	tid := threadID()
	reentrant, active := enter(tid)
	if reentrant || !active {
		return C.call_real_link(oldpath, newpath)
	}
	defer exit(tid)

	res := state.router.Route(routing.CallLink, C.GoString(oldpath), C.GoString(newpath))
	if res.Decision == routing.Block {
		C.set_errno(C.int(res.Errno.Errno()))
		return -1
	}
	return C.call_real_link(oldpath, newpath)
}

func fillStat(buf *C.struct_stat, v vnode.VNode) {
	mode := C.mode_t(v.Mode) | C.S_IFREG
	if v.Flags.Has(vnode.FlagDir) {
		mode = C.mode_t(v.Mode) | C.S_IFDIR
	} else if v.Flags.Has(vnode.FlagSymlink) {
		mode = C.mode_t(v.Mode) | C.S_IFLNK
	}
	C.fill_stat_mode_size(buf, mode, C.off_t(v.Size), C.long(v.MtimeSec))
}
