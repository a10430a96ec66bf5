// Package pathutil implements canonical path normalization and the
// fnv1a_64 interning hash used to key every VDir probe (spec.md §3.1).
package pathutil

import (
	"hash/fnv"
	"strings"
)

// Normalize reduces p to its canonical absolute form: a single leading
// "/", no "..", no "//", and no trailing "/" (except for the root itself).
// Normalize is idempotent: Normalize(Normalize(p)) == Normalize(p) for
// every p (spec.md §3.2 invariant 5).
func Normalize(p string) string {
	if p == "" {
		return "/"
	}

	segments := strings.Split(p, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// HasPrefix reports whether normalized path p falls under normalized
// project prefix (both must already be canonical, e.g. via Normalize).
func HasPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// Hash computes the fnv1a_64 digest of a normalized path, used to probe
// the VDir stat table and the dir-index table (spec.md §3.1, §4.1).
func Hash(p string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(p))
	return h.Sum64()
}

// Join joins a project-relative path onto a normalized cwd, anchoring a
// relative path argument the way the routing layer must before a VDir
// lookup (spec.md §4.2.3 step 1).
func Join(cwd, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return Normalize(rel)
	}
	return Normalize(cwd + "/" + rel)
}
