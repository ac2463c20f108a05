package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"league-jobs-service/internal/progress"
)

// Handler executes one job type as an ordered sequence of weighted phases.
// Handlers must be safe to re-run on partially completed state: a claimed
// job may be a stale retry of an earlier attempt.
type Handler interface {
	Type() string
	Plan() progress.Plan
	Run(ctx context.Context, ex *Execution) error
}

// Registry maps a job type to its handler. Registration is closed before the
// runner starts; a type without a handler is a configuration error and fails
// terminally at dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[h.Type()]; ok {
		return fmt.Errorf("jobs: handler for %q already registered", h.Type())
	}
	r.handlers[h.Type()] = h
	return nil
}

func (r *Registry) Get(typ string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Known reports whether a handler exists for the type. The submission path
// uses it to reject unknown types before they enter the queue.
func (r *Registry) Known(typ string) bool {
	_, ok := r.Get(typ)
	return ok
}

// StaticTypes is a fixed set of known job types for processes that accept
// submissions but never execute them (the API server).
type StaticTypes map[string]struct{}

func NewStaticTypes(types ...string) StaticTypes {
	s := make(StaticTypes, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s StaticTypes) Known(typ string) bool {
	_, ok := s[typ]
	return ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
