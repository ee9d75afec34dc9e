package split

import (
	"context"
	"sort"
	"sync"
)

// Key identifies a segment occurrence: the same marker seen in the same
// fragment by two workers yields the same key.
type Key struct {
	Fragment  string
	ItemID    string
	Modifiers string
}

func (k Key) String() string {
	return k.Fragment + "_" + k.ItemID + "_" + k.Modifiers
}

// Registry records claimed segments. Claim must be an atomic
// insert-if-absent: it returns true for exactly one caller per key.
type Registry interface {
	Claim(ctx context.Context, k Key) (bool, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{keys: make(map[Key]struct{})}
}

// Claim implements Registry.
func (r *MemoryRegistry) Claim(_ context.Context, k Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[k]; ok {
		return false, nil
	}
	r.keys[k] = struct{}{}
	return true, nil
}

// Len returns the number of claimed keys.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Keys returns the claimed keys sorted by their string form.
func (r *MemoryRegistry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Key, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
