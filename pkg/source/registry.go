package source

import (
	"runtime"
	"sync"
)

// Kind identifies which of the five source kinds a registry entry holds.
type Kind int

const (
	KindWifi Kind = iota
	KindThreeG
	KindNmea
	KindModemGPS
	KindStatic
)

// key is the registry's composite key: (Kind, scrambleBSS). Every
// concrete source kind is a process-wide singleton parameterized by
// this one boolean.
type key struct {
	kind        Kind
	scrambleBSS bool
}

// Registry is a process-wide, (Kind, bool)-keyed table of source
// instances. The first caller for a given key constructs the source via
// the supplied factory; later callers for the same key get the same
// instance. Each entry holds a strong reference to its instance, so an
// instance stays registered for as long as the Registry itself is
// reachable; entries are not released when callers drop their
// references.
type Registry struct {
	mu    sync.Mutex
	byKey map[key]*weakEntry
}

type weakEntry struct {
	ptr interface{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[key]*weakEntry)}
}

// GetOrCreate returns the existing singleton for (kind, scrambleBSS), or
// calls factory to build one if none exists yet. factory must return a
// pointer type.
func (r *Registry) GetOrCreate(kind Kind, scrambleBSS bool, factory func() interface{}) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind: kind, scrambleBSS: scrambleBSS}
	if e, ok := r.byKey[k]; ok && e.ptr != nil {
		return e.ptr
	}

	inst := factory()
	entry := &weakEntry{ptr: inst}
	r.byKey[k] = entry

	// The finalizer deletes the entry if inst is ever collected. entry.ptr
	// itself references inst, so this does not happen while the entry is
	// in the Registry.
	runtime.SetFinalizer(inst, func(interface{}) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.byKey[k]; ok && cur == entry {
			delete(r.byKey, k)
		}
	})

	return inst
}
