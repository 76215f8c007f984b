// Package services implements the use-case layer: the turn engine that the
// transports call, and the doctor diagnostics.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/graph"
	"github.com/doeshing/merchat/internal/ports"
	"github.com/doeshing/merchat/internal/security"
	"github.com/doeshing/merchat/internal/state"
)

// Engine is the TurnService implementation: rate limit, session lease, turn
// deadline, graph walk, command apply, checkpoint. One Engine serves every
// session.
type Engine struct {
	Store    *state.Store
	Executor *graph.Executor
	Judge    *security.Judge
	Budgets  domain.BudgetSettings
	Logger   ports.Logger
}

var _ domain.TurnService = (*Engine)(nil)

// Run processes one turn end to end. The returned response is always
// usable; engine-level failures surface as degraded replies, and only
// infrastructure faults (lease timeout, state corruption) return an error.
func (e *Engine) Run(req domain.TurnRequest, sink domain.EventSink) (domain.TurnResponse, error) {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = domain.NopSink
	}
	if req.SessionID == "" {
		return domain.TurnResponse{}, fmt.Errorf("turn request missing session id")
	}

	// The rate gate runs before any session work so a flooding client
	// costs nothing but a map lookup.
	if verdict := e.Judge.CheckRate(req.SessionID); !verdict.Safe {
		return e.rateLimited(ctx, req, sink, verdict)
	}

	lease, err := e.Store.Acquire(ctx, req.SessionID)
	if err != nil {
		return domain.TurnResponse{}, err
	}
	defer lease.Release()

	snapshot := lease.State()
	deadline := e.Budgets.TurnDeadline(snapshot.Mode)
	turnCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	started := time.Now()
	outcome := e.Executor.RunTurn(turnCtx, snapshot, req, sink)
	e.Logger.Debug("turn complete", map[string]interface{}{
		"session":  req.SessionID,
		"mode":     string(outcome.Mode),
		"actions":  outcome.ActionsInvoked,
		"degraded": outcome.Degraded,
		"took_ms":  time.Since(started).Milliseconds(),
	})

	commands := append(outcome.Commands, domain.Command{
		Type:       domain.CommandSetRateTokens,
		RateTokens: e.Judge.RateTokens(req.SessionID),
	})

	// Apply under the parent context: an expired turn deadline must not
	// block persisting what the turn produced.
	next, err := lease.Apply(ctx, commands)
	if err != nil {
		return domain.TurnResponse{}, fmt.Errorf("apply turn commands: %w", err)
	}

	return domain.TurnResponse{
		SessionID:      req.SessionID,
		Reply:          outcome.Reply,
		Mode:           outcome.Mode,
		ActionsInvoked: outcome.ActionsInvoked,
		Commands:       commands,
		Degraded:       outcome.Degraded,
		LastError:      next.LastError,
	}, nil
}

func (e *Engine) rateLimited(ctx context.Context, req domain.TurnRequest, sink domain.EventSink, verdict domain.SecurityVerdict) (domain.TurnResponse, error) {
	record := verdict.Record(time.Now().UTC())
	commands := []domain.Command{
		{Type: domain.CommandAppendValidation, Validation: &record},
		{Type: domain.CommandSetError, ErrorKind: domain.ErrorKindSecurity, ErrorText: verdict.Reason},
		{Type: domain.CommandSetRateTokens, RateTokens: e.Judge.RateTokens(req.SessionID)},
	}

	lease, err := e.Store.Acquire(ctx, req.SessionID)
	if err != nil {
		return domain.TurnResponse{}, err
	}
	defer lease.Release()
	next, err := lease.Apply(ctx, commands)
	if err != nil {
		return domain.TurnResponse{}, fmt.Errorf("apply rate limit commands: %w", err)
	}

	sink.Emit(domain.Event{Type: domain.EventContentChunk, Content: verdict.Fallback})
	sink.Emit(domain.Event{Type: domain.EventDone})
	return domain.TurnResponse{
		SessionID: req.SessionID,
		Reply:     verdict.Fallback,
		Mode:      next.Mode,
		Commands:  commands,
		Degraded:  true,
		LastError: next.LastError,
	}, nil
}
