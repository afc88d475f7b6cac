package compiler

import (
	"sort"
	"strings"
	"sync"
)

// Registry hands out one Facade per board id.
//
// Facades are created on first use and validated before they are cached;
// a board that fails validation is not remembered.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	facades map[string]*Facade
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, facades: make(map[string]*Facade)}
}

// Get returns the Facade for board, creating it on first use.
func (r *Registry) Get(board string) (*Facade, error) {
	board = strings.TrimSpace(board)
	if board == "" {
		return nil, classify(board, errBoardNotSet)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.facades[board]; ok {
		return f, nil
	}
	f, err := New(board, r.deps)
	if err != nil {
		return nil, err
	}
	r.facades[board] = f
	return f, nil
}

// Boards returns the ids of the cached facades, sorted.
func (r *Registry) Boards() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.facades))
	for id := range r.facades {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
