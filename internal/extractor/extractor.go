// Package extractor is the program injected into a submission tab. On each
// extract command it polls the rendered page for the source element and
// answers with exactly one result message.
package extractor

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/browser"
	"github.com/hyperifyio/cfsource/internal/channel"
)

const (
	// DefaultElementID is the element holding submission source on Codeforces.
	DefaultElementID = "program-source-text"
	// TimeoutSentinel is reported as the text when the element never appears.
	TimeoutSentinel = "// Error: Timed out waiting for code block"

	DefaultInterval = 100 * time.Millisecond
	DefaultTimeout  = 60 * time.Second
)

// Config controls polling. Zero fields take defaults.
type Config struct {
	ElementID string
	Interval  time.Duration
	Timeout   time.Duration
}

// DefaultConfig returns the polling settings used against Codeforces.
func DefaultConfig() Config {
	return Config{ElementID: DefaultElementID, Interval: DefaultInterval, Timeout: DefaultTimeout}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ElementID) == "" {
		c.ElementID = DefaultElementID
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Program implements browser.Program.
type Program struct {
	cfg Config
}

func New(cfg Config) *Program {
	return &Program{cfg: cfg.withDefaults()}
}

func (p *Program) Name() string { return "extract-source" }

// Config returns the effective settings.
func (p *Program) Config() Config { return p.cfg }

// Run installs the command listener. It runs on the tab loop, as do all
// callbacks below, so the per-command state needs no locking.
func (p *Program) Run(tc browser.TabContext) error {
	id := string(tc.TabID())
	return tc.OnMessage(func(msg channel.Message) {
		if !msg.Is(channel.TypeExtract, id) {
			return
		}
		p.extract(tc)
	})
}

func (p *Program) extract(tc browser.TabContext) {
	id := string(tc.TabID())
	var (
		answered bool
		poll     browser.Timer
		deadline browser.Timer
	)
	reply := func(text string, timedOut bool) {
		if answered {
			return
		}
		answered = true
		poll.Stop()
		deadline.Stop()
		err := tc.Send(channel.Message{
			Type:       channel.TypeResult,
			ResourceID: id,
			Text:       text,
			TimedOut:   timedOut,
		})
		if err != nil {
			log.Warn().Err(err).Str("tab", id).Msg("extract result not delivered")
		}
	}
	poll = tc.Every(p.cfg.Interval, func() {
		doc := tc.Document()
		if doc == nil {
			return
		}
		if text, ok := doc.TextByID(p.cfg.ElementID); ok {
			reply(text, false)
		}
	})
	deadline = tc.After(p.cfg.Timeout, func() {
		log.Debug().Str("tab", id).Dur("timeout", p.cfg.Timeout).Msg("source element never rendered")
		reply(TimeoutSentinel, true)
	})
}

// IsTimeout reports whether text is the timeout sentinel.
func IsTimeout(text string) bool {
	return text == TimeoutSentinel
}
