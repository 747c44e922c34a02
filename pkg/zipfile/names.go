package zipfile

import (
	"fmt"
	"path"
	"strings"
)

// NameRegistry tracks archive entry names allocated during one archive run.
// It is not safe for concurrent use.
type NameRegistry struct {
	used map[string]struct{}
}

// NewNameRegistry returns an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{used: make(map[string]struct{})}
}

// Contains reports whether name was already allocated.
func (r *NameRegistry) Contains(name string) bool {
	_, ok := r.used[name]
	return ok
}

// Allocate returns desired when it is unused, otherwise the first free
// "stem-N.ext" variant. The chosen name is recorded before returning.
func (r *NameRegistry) Allocate(desired string) string {
	if !r.Contains(desired) {
		r.used[desired] = struct{}{}
		return desired
	}

	stem, ext := splitExt(desired)
	// len(used)+1 candidates cannot all be taken.
	limit := len(r.used) + 1
	for i := 1; i <= limit; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if !r.Contains(candidate) {
			r.used[candidate] = struct{}{}
			return candidate
		}
	}
	panic("zipfile: name registry exhausted")
}

func splitExt(name string) (string, string) {
	base := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		base = name[idx+1:]
	}
	ext := path.Ext(base)
	if ext == "" || ext == base {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
