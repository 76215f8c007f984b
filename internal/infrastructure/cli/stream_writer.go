package cli

import (
	"fmt"
	"io"

	"github.com/doeshing/merchat/internal/domain"
)

// EventPrinter drains a turn's event stream to a writer. Content chunks
// print as they arrive; action and error events print only in debug mode.
type EventPrinter struct {
	out   io.Writer
	debug bool
}

var _ domain.EventSink = (*EventPrinter)(nil)

// NewEventPrinter builds a printer for stdout-style streaming.
func NewEventPrinter(out io.Writer, debug bool) *EventPrinter {
	return &EventPrinter{out: out, debug: debug}
}

// Emit implements domain.EventSink.
func (p *EventPrinter) Emit(event domain.Event) {
	switch event.Type {
	case domain.EventContentChunk:
		fmt.Fprint(p.out, event.Content)
	case domain.EventDone:
		fmt.Fprintln(p.out)
	case domain.EventActionResult:
		if p.debug {
			fmt.Fprintf(p.out, "[action %s] %v\n", event.Action, event.Data)
		}
	case domain.EventError:
		if p.debug {
			fmt.Fprintf(p.out, "[error] %s\n", event.Fields["kind"])
		}
	case domain.EventMetadata:
		if p.debug {
			fmt.Fprintf(p.out, "[turn] %v\n", event.Fields)
		}
	}
}
