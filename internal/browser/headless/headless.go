// Package headless is a browser.Host that loads pages over HTTP and serves
// them to injected programs as parsed HTML. It does not run page scripts.
package headless

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/browser"
	"github.com/hyperifyio/cfsource/internal/extract"
	"github.com/hyperifyio/cfsource/internal/fetch"
)

// Fetcher loads a page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// Gate vetoes page loads, e.g. robots.txt.
type Gate interface {
	Check(ctx context.Context, url string) error
}

// Host loads each tab's URL once. A failed load still completes the tab
// with an empty document so programs can run their own timeouts.
type Host struct {
	*browser.Registry

	fetcher Fetcher
	gate    Gate
}

type Option func(*Host)

// WithGate consults g before every load.
func WithGate(g Gate) Option {
	return func(h *Host) { h.gate = g }
}

func New(f Fetcher, opts ...Option) *Host {
	h := &Host{Registry: browser.NewRegistry(), fetcher: f}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Host) CreateTab(ctx context.Context, opts browser.TabOptions) (browser.TabID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if h.fetcher == nil {
		return "", fmt.Errorf("create tab %s: no fetcher configured", opts.URL)
	}
	tab, err := h.Open(opts.URL)
	if err != nil {
		return "", err
	}
	tab.Post(func() {
		h.Emit(tab, browser.StatusLoading)
		go h.load(tab)
	})
	return tab.TabID(), nil
}

// load runs off the tab loop and hands the document back to it.
func (h *Host) load(tab *browser.Tab) {
	ctx := tab.Context()
	logger := log.With().Str("tab", string(tab.TabID())).Str("url", tab.URL()).Logger()

	doc, err := h.document(ctx, tab.URL())
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("page load failed")
	} else {
		logger.Debug().Str("title", doc.Title).Msg("page loaded")
	}
	tab.Post(func() {
		if doc != nil {
			tab.SetDocument(doc)
		}
		h.Emit(tab, browser.StatusComplete)
	})
}

func (h *Host) document(ctx context.Context, url string) (*extract.Page, error) {
	if h.gate != nil {
		if err := h.gate.Check(ctx, url); err != nil {
			return nil, err
		}
	}
	resp, err := h.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return extract.Parse(resp.Body, resp.ContentType)
}

func (h *Host) Inject(ctx context.Context, id browser.TabID, p browser.Program) error {
	return h.Registry.Inject(ctx, id, p)
}

func (h *Host) RemoveTab(_ context.Context, id browser.TabID) error {
	return h.Remove(id)
}

var _ browser.Host = (*Host)(nil)
