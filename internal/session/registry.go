package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry maps connection ids to live connections. A connection is removed
// once it is closed or failed.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
	newID func() string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		newID: uuid.NewString,
	}
}

// Register adds c and returns its id. A connection whose id is taken by another
// live connection is given a fresh one.
func (r *Registry) Register(c *Connection) string {
	r.mu.Lock()
	id := c.ID()
	for {
		existing, ok := r.conns[id]
		if !ok || existing == c {
			break
		}
		id = r.newID()
	}
	r.conns[id] = c
	r.mu.Unlock()

	c.setID(id)
	c.onTerminal(func() { r.remove(id, c) })
	return id
}

// Lookup returns the live connection registered under id.
func (r *Registry) Lookup(id string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Remove drops the entry for id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) remove(id string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[id] == c {
		delete(r.conns, id)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Connections returns the registered connections ordered by id.
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, r.conns[id])
	}
	r.mu.Unlock()
	return conns
}

// CloseAll closes every registered connection and returns the first error.
func (r *Registry) CloseAll() error {
	var first error
	for _, c := range r.Connections() {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
