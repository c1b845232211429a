package channel

// MessageType tags runtime messages exchanged between the orchestrator and tab programs.
type MessageType string

const (
	// TypeExtract asks the extractor in tab ResourceID to produce the document text.
	TypeExtract MessageType = "EXTRACT_CODE"
	// TypeResult carries the extractor's answer back to the orchestrator.
	TypeResult MessageType = "SUBMISSION_CODE_RESPONSE"
)

// Message is the envelope carried on the runtime bus. ResourceID is the
// correlation id: the tab the command targets, or the tab the result came from.
type Message struct {
	Type       MessageType `json:"type"`
	ResourceID string      `json:"resourceId"`
	Text       string      `json:"text,omitempty"`
	TimedOut   bool        `json:"timedOut,omitempty"`
}

// Is reports whether m has type t and belongs to resource id.
func (m Message) Is(t MessageType, id string) bool {
	return m.Type == t && m.ResourceID == id
}
