package workspace

import (
	"sort"
	"sync"

	"github.com/dhamidi/rfclive/document"
)

// Registry holds the document states of a workspace keyed by URI.
type Registry struct {
	mu     sync.RWMutex
	opts   document.Options
	states map[string]*document.State
}

// NewRegistry creates states with opts. All states share opts.Queue.
func NewRegistry(opts document.Options) *Registry {
	if opts.Queue == nil {
		opts.Queue = document.NewQueue()
	}
	return &Registry{
		opts:   opts,
		states: make(map[string]*document.State),
	}
}

func (r *Registry) Queue() *document.Queue {
	return r.opts.Queue
}

// GetOrCreate returns the state for id, creating it on first observation.
func (r *Registry) GetOrCreate(id document.Identity) (*document.State, bool) {
	r.mu.RLock()
	s := r.states[id.URI]
	r.mu.RUnlock()
	if s != nil {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.states[id.URI]; s != nil {
		return s, false
	}
	s = document.New(id, r.opts)
	r.states[id.URI] = s
	return s, true
}

func (r *Registry) Get(uri string) *document.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[uri]
}

// Remove forgets the state for uri and returns it. The caller disposes it.
func (r *Registry) Remove(uri string) *document.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.states[uri]
	delete(r.states, uri)
	return s
}

// RemoveAll empties the registry and returns the removed states.
func (r *Registry) RemoveAll() []*document.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*document.State, 0, len(r.states))
	for _, s := range r.states {
		all = append(all, s)
	}
	r.states = make(map[string]*document.State)
	return all
}

// URIs returns the tracked URIs in sorted order.
func (r *Registry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uris := make([]string, 0, len(r.states))
	for uri := range r.states {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
