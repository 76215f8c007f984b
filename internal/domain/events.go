package domain

// EventType enumerates the typed events a turn streams to the transport.
type EventType string

const (
	EventMetadata     EventType = "metadata"
	EventContentChunk EventType = "content-chunk"
	EventActionResult EventType = "action-result"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// Event is one element of the turn's output stream. The transport drains the
// stream and frames it however it likes (SSE, WebSocket, plain stdout).
type Event struct {
	Type    EventType         `json:"type"`
	Content string            `json:"content,omitempty"`
	Action  string            `json:"action,omitempty"`
	Data    map[string]any    `json:"data,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// StreamWriter receives incremental content during a turn.
type StreamWriter interface {
	WriteChunk(text string)
	Done()
}

// EventSink receives the typed event stream for one turn. Emit must not
// block forever; sinks are expected to drain promptly or drop.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(e Event) { f(e) }

// NopSink discards all events.
var NopSink = EventSinkFunc(func(Event) {})
