// Package simhost is a scripted, in-memory browser.Host. Pages are declared
// up front with their render timing; failures can be injected per host.
package simhost

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperifyio/cfsource/internal/browser"
)

// Page scripts how a URL renders.
type Page struct {
	// Elements appear in the document once the page has content.
	// A nil map renders a page that never contains any element.
	Elements map[string]string
	// RenderDelay is the time until the first "complete" event.
	RenderDelay time.Duration
	// ContentDelay is extra time after "complete" before Elements appear,
	// as on pages that fill in content from script.
	ContentDelay time.Duration
	// ReadySignals is the number of "complete" events emitted. Zero means one.
	ReadySignals int
	// SignalGap separates repeated "complete" events.
	SignalGap time.Duration
}

// Host implements browser.Host on top of browser.Registry.
type Host struct {
	*browser.Registry

	mu        sync.Mutex
	pages     map[string]Page
	fallback  Page
	createErr error
	injectErr error

	injections atomic.Int64
}

func New() *Host {
	return &Host{
		Registry: browser.NewRegistry(),
		pages:    make(map[string]Page),
	}
}

// SetPage scripts the page served at url.
func (h *Host) SetPage(url string, p Page) {
	h.mu.Lock()
	h.pages[url] = p
	h.mu.Unlock()
}

// SetFallback scripts every URL without its own page.
func (h *Host) SetFallback(p Page) {
	h.mu.Lock()
	h.fallback = p
	h.mu.Unlock()
}

// FailCreate makes every CreateTab call return err (nil restores success).
func (h *Host) FailCreate(err error) {
	h.mu.Lock()
	h.createErr = err
	h.mu.Unlock()
}

// FailInject makes every Inject call return err (nil restores success).
func (h *Host) FailInject(err error) {
	h.mu.Lock()
	h.injectErr = err
	h.mu.Unlock()
}

// Injections counts Inject calls, failed ones included.
func (h *Host) Injections() int64 { return h.injections.Load() }

func (h *Host) page(url string) (Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return Page{}, h.createErr
	}
	if p, ok := h.pages[url]; ok {
		return p, nil
	}
	return h.fallback, nil
}

func (h *Host) CreateTab(ctx context.Context, opts browser.TabOptions) (browser.TabID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := h.page(opts.URL)
	if err != nil {
		return "", fmt.Errorf("create tab %s: %w", opts.URL, err)
	}
	tab, err := h.Open(opts.URL)
	if err != nil {
		return "", err
	}
	tab.Post(func() { h.render(tab, p) })
	return tab.TabID(), nil
}

// render runs on the tab loop.
func (h *Host) render(tab *browser.Tab, p Page) {
	h.Emit(tab, browser.StatusLoading)
	signals := p.ReadySignals
	if signals <= 0 {
		signals = 1
	}
	fill := func() {
		if p.Elements != nil {
			tab.SetDocument(browser.MapDocument(p.Elements))
		}
	}
	tab.After(p.RenderDelay, func() {
		if p.ContentDelay > 0 {
			tab.After(p.ContentDelay, fill)
		} else {
			fill()
		}
		h.Emit(tab, browser.StatusComplete)
		for i := 1; i < signals; i++ {
			tab.After(time.Duration(i)*p.SignalGap, func() {
				h.Emit(tab, browser.StatusComplete)
			})
		}
	})
}

func (h *Host) Inject(ctx context.Context, id browser.TabID, p browser.Program) error {
	h.injections.Add(1)
	h.mu.Lock()
	err := h.injectErr
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.Registry.Inject(ctx, id, p)
}

func (h *Host) RemoveTab(_ context.Context, id browser.TabID) error {
	return h.Remove(id)
}

var _ browser.Host = (*Host)(nil)
