package domain

import "context"

// TurnRequest captures one inbound user utterance for a session.
type TurnRequest struct {
	Context      context.Context
	SessionID    string
	Message      string
	ModeOverride Mode
	Stream       bool
	Debug        bool
}

// TurnResponse is the canonical per-turn result handed back to the caller.
type TurnResponse struct {
	SessionID      string
	Reply          string
	Mode           Mode
	ActionsInvoked []string
	Commands       []Command
	Degraded       bool
	LastError      string
}

// TurnService exposes the use-case boundary for handling one turn.
type TurnService interface {
	Run(TurnRequest, EventSink) (TurnResponse, error)
}
