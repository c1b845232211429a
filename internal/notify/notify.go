// Package notify publishes retrieval outcomes to a NATS subject so that other
// processes can follow what the retriever is doing.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/orchestrator"
)

// DefaultSubject is used when Options.Subject is empty.
const DefaultSubject = "cfsource.retrievals"

// Outcome status values.
const (
	StatusOK       = "ok"
	StatusTimedOut = "timed_out"
	StatusError    = "error"
)

// Event is the JSON body of every published message.
type Event struct {
	ContestID    string    `json:"contestId"`
	SubmissionID string    `json:"submissionId"`
	URL          string    `json:"url,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Bytes        int       `json:"bytes"`
	ElapsedMS    int64     `json:"elapsedMs"`
	At           time.Time `json:"at"`
}

// EventFrom summarizes an outcome. The source text itself is not included.
func EventFrom(out orchestrator.Outcome) Event {
	ev := Event{
		ContestID:    out.Request.SourceID,
		SubmissionID: out.Request.DocumentID,
		URL:          out.Result.URL,
		Bytes:        len(out.Result.Text),
		ElapsedMS:    out.Result.Elapsed.Milliseconds(),
		At:           time.Now().UTC(),
	}
	switch {
	case out.Err != nil:
		ev.Status = StatusError
		ev.Error = out.Err.Error()
		ev.Bytes = 0
	case out.Result.TimedOut:
		ev.Status = StatusTimedOut
	default:
		ev.Status = StatusOK
	}
	return ev
}

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type Options struct {
	URL     string
	Subject string
	// Name identifies the connection on the server.
	Name    string
	Timeout time.Duration
}

// Publisher sends Events over one NATS connection.
type Publisher struct {
	conn    conn
	subject string
}

// Connect dials the server at opts.URL.
func Connect(opts Options) (*Publisher, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("nats url is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(opts.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, opts.Subject), nil
}

func newPublisher(c conn, subject string) *Publisher {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject}
}

func (p *Publisher) Subject() string { return p.subject }

// Publish encodes ev and hands it to the connection's outbound buffer.
func (p *Publisher) Publish(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.subject, b); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Observe matches orchestrator.Config.OnOutcome. Failures are logged, never
// returned, so a broken bus cannot fail a retrieval.
func (p *Publisher) Observe(out orchestrator.Outcome) {
	if err := p.Publish(EventFrom(out)); err != nil {
		log.Warn().Err(err).Str("subject", p.subject).Msg("publish retrieval outcome")
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
