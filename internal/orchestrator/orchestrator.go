// Package orchestrator retrieves submission source by opening a background
// tab, injecting the extractor once the page is ready, and relaying the one
// result it reports. Every call owns exactly one tab and always removes it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/browser"
	"github.com/hyperifyio/cfsource/internal/channel"
	"github.com/hyperifyio/cfsource/internal/extractor"
)

var (
	// ErrResourceCreation means the tab could not be created.
	ErrResourceCreation = errors.New("resource creation failed")
	// ErrInjection means the extractor could not be loaded into the tab.
	ErrInjection = errors.New("injection failed")
	// ErrDelivery means the extract command could not be sent or its reply watched.
	ErrDelivery = errors.New("message delivery failed")
	// ErrDeliveryTimeout means no result arrived before the call's deadline.
	ErrDeliveryTimeout = errors.New("no result before deadline")
	// ErrInvalidRequest means the request does not identify a document.
	ErrInvalidRequest = errors.New("invalid retrieval request")
)

const (
	DefaultBaseURL = "https://codeforces.com"
	DefaultTimeout = 90 * time.Second

	cleanupTimeout = 5 * time.Second
)

// Request identifies one submission: SourceID is the contest, DocumentID the submission.
type Request struct {
	SourceID   string `json:"contestId"`
	DocumentID string `json:"submissionId"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" || strings.TrimSpace(r.DocumentID) == "" {
		return fmt.Errorf("%w: contest and submission ids are required", ErrInvalidRequest)
	}
	if strings.ContainsAny(r.SourceID+r.DocumentID, "/?#") {
		return fmt.Errorf("%w: ids must not contain path separators", ErrInvalidRequest)
	}
	return nil
}

// Result is the outcome of a successful retrieval. When the extractor gave up
// waiting for the source element, TimedOut is set and Text is extractor.TimeoutSentinel.
type Result struct {
	Text     string
	TimedOut bool
	TabID    browser.TabID
	URL      string
	Elapsed  time.Duration
}

// Config tunes an Orchestrator. Zero fields take defaults.
type Config struct {
	// BaseURL is the site root the submission address is built from.
	BaseURL string
	// Timeout bounds a whole call, from tab creation to result.
	Timeout time.Duration
	// Extractor configures the injected program. Its Timeout should be
	// shorter than Timeout so that a missing element yields the sentinel
	// rather than ErrDeliveryTimeout.
	Extractor extractor.Config
	// OnOutcome, when set, is called after every retrieval with its result
	// or error. It runs on the caller's goroutine and must not block.
	OnOutcome func(Outcome)
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Orchestrator is safe for concurrent use; calls share nothing but the host.
type Orchestrator struct {
	host    browser.Host
	cfg     Config
	program *extractor.Program
}

func New(host browser.Host, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	p := extractor.New(cfg.Extractor)
	cfg.Extractor = p.Config()
	if cfg.Extractor.Timeout >= cfg.Timeout {
		log.Warn().
			Dur("extract_timeout", cfg.Extractor.Timeout).
			Dur("timeout", cfg.Timeout).
			Msg("extractor timeout is not shorter than the call timeout; missing elements will surface as delivery timeouts")
	}
	return &Orchestrator{host: host, cfg: cfg, program: p}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// URLFor returns the submission page address for req.
func (o *Orchestrator) URLFor(req Request) string {
	return fmt.Sprintf("%s/contest/%s/submission/%s", o.cfg.BaseURL, req.SourceID, req.DocumentID)
}

// Retrieve returns the submission source text. If the source element never
// rendered it returns extractor.TimeoutSentinel and a nil error; use
// RetrieveResult to branch on that case without comparing strings.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (string, error) {
	res, err := o.RetrieveResult(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RetrieveResult runs one retrieval and reports details about it.
func (o *Orchestrator) RetrieveResult(ctx context.Context, req Request) (Result, error) {
	res, err := o.retrieve(ctx, req)
	if o.cfg.OnOutcome != nil {
		o.cfg.OnOutcome(Outcome{Request: req, Result: res, Err: err})
	}
	return res, err
}

func (o *Orchestrator) retrieve(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	url := o.URLFor(req)
	lg := log.With().Str("contest", req.SourceID).Str("submission", req.DocumentID).Logger()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	c := newCall(ctx, o, lg)
	defer c.unwatch()

	// The readiness watcher goes in before the tab exists so that the first
	// "complete" event cannot slip past; it holds events until the id is known.
	readySub, err := o.host.Events().Subscribe(c.onTabEvent)
	if err != nil {
		c.abandon()
		observe(outcomeCreateFailed, start)
		return Result{}, fmt.Errorf("%w: watch readiness: %v", ErrResourceCreation, err)
	}
	c.setReadyWatcher(readySub)

	id, err := o.host.CreateTab(ctx, browser.TabOptions{URL: url, Active: false})
	if err != nil {
		c.abandon()
		observe(outcomeCreateFailed, start)
		lg.Warn().Err(err).Str("url", url).Msg("tab creation failed")
		return Result{}, fmt.Errorf("%w: %s: %v", ErrResourceCreation, url, err)
	}
	tabsCreated.Inc()
	tabsLive.Inc()
	defer o.destroy(ctx, id, lg)
	c.bind(id)
	lg = lg.With().Str("tab", string(id)).Logger()
	lg.Debug().Str("url", url).Msg("tab created")

	var out outcome
	select {
	case out = <-c.done:
	case <-ctx.Done():
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("%w after %v: %v", ErrDeliveryTimeout, time.Since(start).Round(time.Millisecond), cause)
		}
		c.resolve(outcome{err: cause})
		out = <-c.done
	}
	if out.err != nil {
		observe(classify(out.err), start)
		lg.Warn().Err(out.err).Msg("retrieval failed")
		return Result{TabID: id, URL: url, Elapsed: time.Since(start)}, out.err
	}
	res := Result{Text: out.text, TimedOut: out.timedOut, TabID: id, URL: url, Elapsed: time.Since(start)}
	if res.TimedOut {
		observe(outcomeExtractTimeout, start)
		lg.Info().Dur("elapsed", res.Elapsed).Msg("source element did not render before extractor timeout")
	} else {
		observe(outcomeOK, start)
		lg.Debug().Int("bytes", len(res.Text)).Dur("elapsed", res.Elapsed).Msg("retrieved source")
	}
	return res, nil
}

// destroy removes the tab even when ctx is already cancelled.
func (o *Orchestrator) destroy(ctx context.Context, id browser.TabID, lg zerolog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.host.RemoveTab(cctx, id); err != nil {
		lg.Warn().Err(err).Msg("tab removal failed")
		return
	}
	tabsDestroyed.Inc()
	tabsLive.Dec()
}

type outcome struct {
	text     string
	timedOut bool
	err      error
}

// call is the per-request state threaded through every step; nothing in it
// is visible to other calls.
type call struct {
	ctx context.Context
	o   *Orchestrator
	log zerolog.Logger

	id    browser.TabID
	bound chan struct{} // closed once id is set or the call is abandoned

	once     sync.Once
	resolved atomic.Bool
	done     chan outcome // buffered; receives exactly one outcome

	mu    sync.Mutex
	ready channel.Subscription
	reply channel.Subscription
}

func newCall(ctx context.Context, o *Orchestrator, lg zerolog.Logger) *call {
	return &call{
		ctx:   ctx,
		o:     o,
		log:   lg,
		bound: make(chan struct{}),
		done:  make(chan outcome, 1),
	}
}

func (c *call) bind(id browser.TabID) {
	c.id = id
	close(c.bound)
}

// abandon releases a readiness watcher that is waiting for an id that will never come.
func (c *call) abandon() {
	c.resolve(outcome{err: ErrResourceCreation})
	close(c.bound)
}

// resolve settles the pending call. Only the first outcome counts.
func (c *call) resolve(out outcome) {
	c.once.Do(func() {
		c.resolved.Store(true)
		c.done <- out
	})
}

func (c *call) settled() bool {
	return c.resolved.Load() || c.ctx.Err() != nil
}

func (c *call) setReadyWatcher(s channel.Subscription) {
	c.mu.Lock()
	c.ready = s
	c.mu.Unlock()
}

func (c *call) setReplyWatcher(s channel.Subscription) {
	c.mu.Lock()
	c.reply = s
	c.mu.Unlock()
}

// takeReady removes the readiness watcher and reports whether this caller
// was the one to do it.
func (c *call) takeReady() bool {
	c.mu.Lock()
	s := c.ready
	c.ready = nil
	c.mu.Unlock()
	if s == nil {
		return false
	}
	_ = s.Unsubscribe()
	return true
}

func (c *call) takeReply() bool {
	c.mu.Lock()
	s := c.reply
	c.reply = nil
	c.mu.Unlock()
	if s == nil {
		return false
	}
	_ = s.Unsubscribe()
	return true
}

func (c *call) unwatch() {
	c.takeReady()
	c.takeReply()
}

func (c *call) onTabEvent(ev browser.TabEvent) {
	<-c.bound
	if c.id == "" || ev.TabID != c.id || ev.Status != browser.StatusComplete {
		return
	}
	if !c.takeReady() {
		return
	}
	if c.settled() {
		return
	}
	c.log.Debug().Msg("tab ready; injecting extractor")
	c.inject()
}

func (c *call) inject() {
	host := c.o.host
	if err := host.Inject(c.ctx, c.id, c.o.program); err != nil {
		c.resolve(outcome{err: fmt.Errorf("%w: %s: %v", ErrInjection, c.o.program.Name(), err)})
		return
	}
	sub, err := host.Runtime().Subscribe(c.onMessage)
	if err != nil {
		c.resolve(outcome{err: fmt.Errorf("%w: watch reply: %v", ErrDelivery, err)})
		return
	}
	c.setReplyWatcher(sub)
	if c.settled() {
		c.takeReply()
		return
	}
	err = host.Runtime().Publish(channel.Message{Type: channel.TypeExtract, ResourceID: string(c.id)})
	if err != nil {
		c.takeReply()
		c.resolve(outcome{err: fmt.Errorf("%w: send extract command: %v", ErrDelivery, err)})
	}
}

func (c *call) onMessage(msg channel.Message) {
	if !msg.Is(channel.TypeResult, string(c.id)) {
		return
	}
	if !c.takeReply() {
		return
	}
	c.resolve(outcome{text: msg.Text, timedOut: msg.TimedOut})
}
