// Package browser models the rendering host the orchestrator drives: tabs that
// load a page on their own event loop, report readiness, and run injected programs.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/hyperifyio/cfsource/internal/channel"
)

var (
	// ErrHostClosed is returned by operations on a host that has been shut down.
	ErrHostClosed = errors.New("browser host closed")
	// ErrTabNotFound is returned when an operation targets a tab that does not exist.
	ErrTabNotFound = errors.New("tab not found")
)

// TabID is the opaque handle of one ephemeral tab.
type TabID string

// TabStatus mirrors the loading state reported in tab update events.
type TabStatus string

const (
	StatusLoading  TabStatus = "loading"
	StatusComplete TabStatus = "complete"
)

// TabEvent is published on Host.Events whenever a tab changes loading state.
// A tab may report StatusComplete more than once, e.g. after an in-page redirect.
type TabEvent struct {
	TabID  TabID
	Status TabStatus
	URL    string
}

// TabOptions controls tab creation.
type TabOptions struct {
	URL string
	// Active requests a focused, visible tab. Headless hosts ignore it.
	Active bool
}

// Document is the rendered content a program can query.
type Document interface {
	// TextByID returns the rendered text of the element with the given id.
	TextByID(id string) (string, bool)
}

// Timer is a pending callback scheduled on a tab loop.
type Timer interface {
	// Stop prevents further runs. Called from the tab loop, it guarantees
	// the callback will not run afterwards.
	Stop() bool
}

// TabContext is what an injected program sees. Every callback it registers
// runs on the tab's own event loop, one at a time.
type TabContext interface {
	TabID() TabID
	Document() Document
	// OnMessage subscribes to runtime messages for the lifetime of the tab.
	OnMessage(h func(channel.Message)) error
	// Send publishes a runtime message.
	Send(msg channel.Message) error
	After(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// Program is code injected into a tab.
type Program interface {
	Name() string
	// Run executes on the tab loop at injection time; its error fails the injection.
	Run(tc TabContext) error
}

// Host is the environment able to create, script and remove tabs.
type Host interface {
	CreateTab(ctx context.Context, opts TabOptions) (TabID, error)
	// Inject runs p inside the tab and returns once p.Run has completed.
	Inject(ctx context.Context, id TabID, p Program) error
	// RemoveTab destroys the tab. Removing an unknown or already removed tab is not an error.
	RemoveTab(ctx context.Context, id TabID) error
	Events() *channel.Bus[TabEvent]
	Runtime() *channel.Bus[channel.Message]
	Close() error
}
