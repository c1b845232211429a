package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/hyperifyio/cfsource/internal/channel"
)

// Registry holds the tab table and buses shared by Host implementations.
// Hosts embed it and add their own loading behavior on top of Open.
type Registry struct {
	events  *channel.Bus[TabEvent]
	runtime *channel.Bus[channel.Message]

	mu     sync.Mutex
	tabs   map[TabID]*Tab
	closed bool

	opened  atomic.Int64
	removed atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{
		events:  channel.New[TabEvent](),
		runtime: channel.New[channel.Message](),
		tabs:    make(map[TabID]*Tab),
	}
}

func (r *Registry) Events() *channel.Bus[TabEvent] { return r.events }

func (r *Registry) Runtime() *channel.Bus[channel.Message] { return r.runtime }

// Open allocates a tab with a fresh id. Nothing is loaded yet.
func (r *Registry) Open(url string) (*Tab, error) {
	id := TabID("tab-" + ulid.Make().String())
	t := newTab(id, url, r.runtime)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.close()
		return nil, ErrHostClosed
	}
	r.tabs[id] = t
	r.mu.Unlock()
	r.opened.Add(1)
	return t, nil
}

// Get returns a live tab.
func (r *Registry) Get(id TabID) (*Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[id]
	return t, ok
}

// Emit publishes a loading state change for t.
func (r *Registry) Emit(t *Tab, status TabStatus) {
	_ = r.events.Publish(TabEvent{TabID: t.id, Status: status, URL: t.url})
}

// Inject runs p on the tab loop and waits for it to finish.
func (r *Registry) Inject(ctx context.Context, id TabID, p Program) error {
	t, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("inject %s: %w", id, ErrTabNotFound)
	}
	errc := make(chan error, 1)
	if !t.Post(func() { errc <- p.Run(t) }) {
		return fmt.Errorf("inject %s: %w", id, ErrTabNotFound)
	}
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("program %s: %w", p.Name(), err)
		}
		return nil
	case <-t.ctx.Done():
		return fmt.Errorf("inject %s: tab closed: %w", id, ErrTabNotFound)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove tears down the tab. It is a no-op for unknown ids.
func (r *Registry) Remove(id TabID) error {
	r.mu.Lock()
	t, ok := r.tabs[id]
	if ok {
		delete(r.tabs, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	t.close()
	r.removed.Add(1)
	return nil
}

// Len is the number of live tabs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// Opened and Removed count tabs over the registry's lifetime.
func (r *Registry) Opened() int64  { return r.opened.Load() }
func (r *Registry) Removed() int64 { return r.removed.Load() }

// Close removes every tab and closes both buses.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	tabs := r.tabs
	r.tabs = make(map[TabID]*Tab)
	r.mu.Unlock()
	for _, t := range tabs {
		t.close()
		r.removed.Add(1)
	}
	_ = r.events.Close()
	_ = r.runtime.Close()
	return nil
}
