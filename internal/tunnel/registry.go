package tunnel

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"web-tunnel-go/internal/model"
)

// ErrPairExists is returned when a pair with the same ID is already registered.
var ErrPairExists = errors.New("pair already registered")

// Registry tracks live pairs by their stable identifier.
type Registry struct {
	mu    sync.Mutex
	pairs map[uuid.UUID]*Pair
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pairs: make(map[uuid.UUID]*Pair)}
}

// Add registers p.
func (r *Registry) Add(p *Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pairs[p.id]; ok {
		return ErrPairExists
	}
	r.pairs[p.id] = p
	return nil
}

// Remove deregisters the pair with the given id and returns it.
func (r *Registry) Remove(id uuid.UUID) (*Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairs[id]
	if ok {
		delete(r.pairs, id)
	}
	return p, ok
}

// Get returns the pair with the given id.
func (r *Registry) Get(id uuid.UUID) (*Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairs[id]
	return p, ok
}

// Len returns the number of live pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pairs)
}

// Snapshot returns a view of every live pair, oldest first.
func (r *Registry) Snapshot() []model.PairInfo {
	r.mu.Lock()
	pairs := make([]*Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		pairs = append(pairs, p)
	}
	r.mu.Unlock()

	slices.SortFunc(pairs, func(a, b *Pair) int {
		return a.openedAt.Compare(b.openedAt)
	})

	infos := make([]model.PairInfo, 0, len(pairs))
	for _, p := range pairs {
		infos = append(infos, p.Info())
	}
	return infos
}

// CloseAll closes both endpoints of every registered pair and returns how many
// pairs it closed. Pairs stay registered until their watcher removes them.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	pairs := make([]*Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		pairs = append(pairs, p)
	}
	r.mu.Unlock()

	for _, p := range pairs {
		_ = p.close()
	}
	return len(pairs)
}
