package controller

import (
	"fmt"
	"sort"
	"sync"
)

// Spec describes one controller to build for a device. A non-empty
// SkipReason means the controller must not be constructed.
type Spec struct {
	Type           Type              `json:"type"`
	Implementation Implementation    `json:"implementation"`
	Key            string            `json:"key"`
	Params         map[string]string `json:"params"`
	SkipReason     string            `json:"skip_reason,omitempty"`
}

// Skipped reports whether the spec carries a skip reason.
func (s Spec) Skipped() bool {
	return s.SkipReason != ""
}

// Param returns a parameter or "".
func (s Spec) Param(name string) string {
	return s.Params[name]
}

// Constructor builds a controller from its spec.
type Constructor func(spec Spec, deps Deps) (Controller, error)

type registryKey struct {
	typ  Type
	impl Implementation
}

// Registry maps (type, implementation) to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[registryKey]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[registryKey]Constructor)}
}

// Register adds or replaces the constructor for (t, impl).
func (r *Registry) Register(t Type, impl Implementation, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[registryKey{t, impl}] = ctor
}

// Lookup returns the constructor for (t, impl).
func (r *Registry) Lookup(t Type, impl Implementation) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[registryKey{t, impl}]
	return ctor, ok
}

// Create builds the controller described by spec. Skipped specs are an error:
// callers are expected to check Skipped first.
func (r *Registry) Create(spec Spec, deps Deps) (Controller, error) {
	if spec.Skipped() {
		return nil, fmt.Errorf("controller %s skipped: %s", spec.Key, spec.SkipReason)
	}
	ctor, ok := r.Lookup(spec.Type, spec.Implementation)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownImplementation, spec.Type, spec.Implementation)
	}
	return ctor(spec, deps)
}

// Implementations lists the registered implementations of t, sorted.
func (r *Registry) Implementations(t Type) []Implementation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Implementation
	for k := range r.ctors {
		if k.typ == t {
			out = append(out, k.impl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Adapt turns a typed constructor into a Constructor without leaking a typed
// nil on error.
func Adapt[T Controller](ctor func(Spec, Deps) (T, error)) Constructor {
	return func(spec Spec, deps Deps) (Controller, error) {
		c, err := ctor(spec, deps)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
