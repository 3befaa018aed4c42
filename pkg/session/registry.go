package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Factory builds a session for a freshly accepted client connection.
type Factory func(id string, client ClientWriter) *Session

// Registry is the only state shared between concurrent flows (accept and
// teardown). Create, Get and Remove are atomic; Remove is idempotent so
// racing teardown paths never double-free.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  Factory
	draining atomic.Bool
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory}
}

var ErrDraining = errors.New("registry draining")

// Create builds and registers a session under a fresh unique id.
func (r *Registry) Create(client ClientWriter) (*Session, error) {
	if r.draining.Load() {
		return nil, ErrDraining
	}
	id := uuid.NewString()
	sess := r.factory(id, client)
	r.sessions.Store(id, sess)
	r.count.Add(1)
	return sess, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove deregisters and closes a session. Returns false when the id was
// already removed.
func (r *Registry) Remove(id string) bool {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	r.count.Add(-1)
	v.(*Session).Close()
	return true
}

func (r *Registry) CloseAll() {
	r.sessions.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			r.Remove(id)
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty polls until all sessions are gone or ctx ends.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return r.Count() == 0
		case <-ticker.C:
		}
	}
}
