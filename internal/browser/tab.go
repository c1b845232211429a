package browser

import (
	"context"
	"sync"
	"time"

	"github.com/hyperifyio/cfsource/internal/channel"
)

// Tab is one ephemeral rendering context. Hosts create it through a Registry
// and drive its loading on the tab loop; programs see it as a TabContext.
type Tab struct {
	id      TabID
	url     string
	loop    *loop
	runtime *channel.Bus[channel.Message]

	ctx    context.Context
	cancel context.CancelFunc

	// doc is only read and written on the tab loop.
	doc Document

	mu   sync.Mutex
	subs []channel.Subscription
}

func newTab(id TabID, url string, runtime *channel.Bus[channel.Message]) *Tab {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tab{
		id:      id,
		url:     url,
		loop:    newLoop(),
		runtime: runtime,
		ctx:     ctx,
		cancel:  cancel,
		doc:     emptyDocument{},
	}
}

func (t *Tab) TabID() TabID { return t.id }

// URL is the address the tab was opened at.
func (t *Tab) URL() string { return t.url }

// Context is cancelled when the tab is removed; loaders use it to abort.
func (t *Tab) Context() context.Context { return t.ctx }

// Post schedules f on the tab loop. It reports false if the tab is gone.
func (t *Tab) Post(f func()) bool { return t.loop.post(f) }

// Document returns the current rendered document. Call it on the tab loop.
func (t *Tab) Document() Document { return t.doc }

// SetDocument replaces the rendered document. Call it on the tab loop.
func (t *Tab) SetDocument(d Document) {
	if d == nil {
		d = emptyDocument{}
	}
	t.doc = d
}

func (t *Tab) OnMessage(h func(channel.Message)) error {
	sub, err := t.runtime.Subscribe(func(msg channel.Message) {
		t.loop.post(func() { h(msg) })
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return nil
}

func (t *Tab) Send(msg channel.Message) error { return t.runtime.Publish(msg) }

func (t *Tab) After(d time.Duration, f func()) Timer { return t.loop.after(d, f) }

func (t *Tab) Every(d time.Duration, f func()) Timer { return t.loop.every(d, f) }

func (t *Tab) close() {
	t.cancel()
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	t.loop.close()
}

type emptyDocument struct{}

func (emptyDocument) TextByID(string) (string, bool) { return "", false }

// MapDocument is a Document backed by a fixed id→text map.
type MapDocument map[string]string

func (m MapDocument) TextByID(id string) (string, bool) {
	v, ok := m[id]
	return v, ok
}
