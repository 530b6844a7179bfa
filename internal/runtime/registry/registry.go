// Package registry provides a two-way unique-pair index.
//
// A Registry maps every present A to exactly one B and back. It is used by the
// Station for (connection, obfuscated id) and (plugin address, plugin id) and by
// Comets for (real platform id, obfuscated id).
package registry

import (
	"fmt"
	"sync"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
)

// Registry is an injective pairing between the present A and B values.
// The zero value is not usable; construct with New.
type Registry[A comparable, B comparable] struct {
	mu  sync.RWMutex
	byA map[A]B
	byB map[B]A
}

// New creates an empty Registry.
func New[A comparable, B comparable]() *Registry[A, B] {
	return &Registry[A, B]{
		byA: make(map[A]B),
		byB: make(map[B]A),
	}
}

// Set stores the pair (a, b). It fails with ErrConflict if either side is
// already present.
func (r *Registry[A, B]) Set(a A, b B) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byA[a]; ok {
		return fmt.Errorf("%w: first value %v", errspkg.ErrConflict, a)
	}
	if _, ok := r.byB[b]; ok {
		return fmt.Errorf("%w: second value %v", errspkg.ErrConflict, b)
	}
	r.byA[a] = b
	r.byB[b] = a
	return nil
}

// GetByA returns the B paired with a.
func (r *Registry[A, B]) GetByA(a A) (B, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byA[a]
	return b, ok
}

// GetByB returns the A paired with b.
func (r *Registry[A, B]) GetByB(b B) (A, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byB[b]
	return a, ok
}

func (r *Registry[A, B]) HasA(a A) bool {
	_, ok := r.GetByA(a)
	return ok
}

func (r *Registry[A, B]) HasB(b B) bool {
	_, ok := r.GetByB(b)
	return ok
}

// DeleteByA removes the pair holding a and returns its B.
func (r *Registry[A, B]) DeleteByA(a A) (B, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byA[a]
	if ok {
		delete(r.byA, a)
		delete(r.byB, b)
	}
	return b, ok
}

// DeleteByB removes the pair holding b and returns its A.
func (r *Registry[A, B]) DeleteByB(b B) (A, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byB[b]
	if ok {
		delete(r.byB, b)
		delete(r.byA, a)
	}
	return a, ok
}

// Len returns the number of pairs.
func (r *Registry[A, B]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byA)
}

// Range calls fn for every pair until fn returns false. fn runs on a snapshot
// so it may call back into the registry.
func (r *Registry[A, B]) Range(fn func(a A, b B) bool) {
	r.mu.RLock()
	snapshot := make([]pair[A, B], 0, len(r.byA))
	for a, b := range r.byA {
		snapshot = append(snapshot, pair[A, B]{a: a, b: b})
	}
	r.mu.RUnlock()

	for _, p := range snapshot {
		if !fn(p.a, p.b) {
			return
		}
	}
}

type pair[A comparable, B comparable] struct {
	a A
	b B
}
