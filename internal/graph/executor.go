package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/intelligence"
	"github.com/doeshing/merchat/internal/ports"
	"github.com/doeshing/merchat/internal/registry"
	"github.com/doeshing/merchat/internal/security"
)

const defaultMaxToolHops = 5

const systemPrompt = `You are a shopping assistant for an online store.
Help the customer find products, check stock and prices, and manage their
cart using the tools available to you. Be concise and concrete. Never
invent products, prices, or discounts; if a tool fails, say so plainly.`

// Executor walks the turn graph. One Executor serves every session; all
// per-turn data lives in the turn context.
type Executor struct {
	judge    ports.SecurityJudge
	detector *intelligence.ModeDetector
	enricher *intelligence.Enricher
	registry *registry.Registry
	invoker  *registry.Invoker
	provider ports.ModelProvider
	caps     []domain.Capability
	budgets  domain.BudgetSettings
	logger   ports.Logger
	now      func() time.Time
}

// Config bundles the executor's collaborators.
type Config struct {
	Judge    ports.SecurityJudge
	Detector *intelligence.ModeDetector
	Enricher *intelligence.Enricher
	Registry *registry.Registry
	Invoker  *registry.Invoker
	Provider ports.ModelProvider
	Caps     []domain.Capability
	Budgets  domain.BudgetSettings
	Logger   ports.Logger
}

// New creates an executor.
func New(cfg Config) *Executor {
	return &Executor{
		judge:    cfg.Judge,
		detector: cfg.Detector,
		enricher: cfg.Enricher,
		registry: cfg.Registry,
		invoker:  cfg.Invoker,
		provider: cfg.Provider,
		caps:     cfg.Caps,
		budgets:  cfg.Budgets,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// RunTurn processes one user message against a state snapshot. It never
// mutates state directly: every effect is returned as a command for the
// caller to apply. RunTurn always produces a usable Outcome, degraded at
// worst.
func (e *Executor) RunTurn(ctx context.Context, state domain.ConversationState, req domain.TurnRequest, sink domain.EventSink) Outcome {
	t := &turn{req: req, state: state, sink: sink, mode: state.Mode}
	t.command(domain.Command{
		Type: domain.CommandAppendMessage,
		Message: &domain.Message{
			ID:        newMessageID(),
			Role:      domain.RoleUser,
			Content:   req.Message,
			CreatedAt: e.now().UTC(),
		},
	})

	node := NodeValidateInput
	for node != nodeTerminal {
		// FormatResponse still runs after the deadline so the caller
		// always gets a well-formed, if degraded, reply.
		if err := ctx.Err(); err != nil && node != NodeFormatResponse {
			node = e.recover(t, node, domain.NewEngineError(domain.ErrorKindDeadline, "", err))
			continue
		}

		started := e.now()
		var next string
		var err error
		switch node {
		case NodeValidateInput:
			next, err = e.validateInput(ctx, t)
		case NodeDetectMode:
			next, err = e.detectMode(ctx, t)
		case NodeEnrichContext:
			next, err = e.enrichContext(ctx, t)
		case NodeSelectAction:
			next, err = e.selectAction(ctx, t)
		case NodeExecuteTool:
			next, err = e.executeTool(ctx, t)
		case NodeValidateOutput:
			next, err = e.validateOutput(ctx, t)
		case NodeFormatResponse:
			next, err = e.formatResponse(t)
		default:
			next, err = nodeTerminal, fmt.Errorf("unknown node %q", node)
		}
		e.recordDuration(t, node, started)

		if err != nil {
			node = e.recover(t, node, err)
			continue
		}
		node = next
	}

	sink.Emit(domain.Event{Type: domain.EventDone})
	return Outcome{
		Reply:          t.reply,
		Mode:           t.mode,
		Commands:       t.commands,
		ActionsInvoked: t.invoked,
		Degraded:       t.degraded,
	}
}

func (e *Executor) validateInput(ctx context.Context, t *turn) (string, error) {
	verdict := e.judge.ValidateInput(ctx, t.req.Message, t.securityContext())
	e.recordVerdict(t, verdict)
	if !verdict.Safe {
		t.reply = verdict.Fallback
		t.degraded = true
		t.command(domain.Command{Type: domain.CommandSetError, ErrorKind: domain.ErrorKindSecurity, ErrorText: verdict.Reason})
		return NodeFormatResponse, nil
	}
	return NodeDetectMode, nil
}

func (e *Executor) detectMode(ctx context.Context, t *turn) (string, error) {
	t.mode = e.detector.Detect(ctx, t.state.SessionID, t.state.Mode, t.req.Message, t.req.ModeOverride)
	if t.mode != t.state.Mode {
		t.command(domain.Command{Type: domain.CommandSetMode, Mode: t.mode})
	}

	available := e.registry.Available(t.mode, e.caps)
	names := make([]string, len(available))
	for i, def := range available {
		names[i] = def.Name
	}
	t.command(domain.Command{Type: domain.CommandSetAvailableActions, Actions: names})

	t.sink.Emit(domain.Event{
		Type: domain.EventMetadata,
		Fields: map[string]string{
			"session_id": t.state.SessionID,
			"mode":       string(t.mode),
		},
	})
	return NodeEnrichContext, nil
}

func (e *Executor) enrichContext(ctx context.Context, t *turn) (string, error) {
	t.enriched = e.enricher.Enrich(ctx, t.state, t.req.Message)
	if len(t.enriched.Degraded) > 0 {
		t.degraded = true
	}
	t.transcript = e.buildTranscript(t)
	return NodeSelectAction, nil
}

func (e *Executor) selectAction(ctx context.Context, t *turn) (string, error) {
	available := e.registry.Available(t.mode, e.caps)
	tools := make([]ports.ToolSpec, len(available))
	for i, def := range available {
		tools[i] = ports.ToolSpec{Name: def.Name, Description: def.Description, Parameters: def.Parameters}
	}

	req := ports.ModelRequest{Messages: t.transcript, Tools: tools}
	resp, err := e.invokeModel(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.ToolCalls) > 0 {
		t.pending = resp.ToolCalls
		t.transcript = append(t.transcript, domain.Message{
			ID:        newMessageID(),
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			CreatedAt: e.now().UTC(),
		})
		return NodeExecuteTool, nil
	}

	t.reply = resp.Content
	return NodeValidateOutput, nil
}

func (e *Executor) executeTool(ctx context.Context, t *turn) (string, error) {
	if t.hops >= e.maxToolHops() {
		// Budget spent; answer with what has been gathered so far.
		e.logger.Warn("tool hop budget exhausted", map[string]interface{}{
			"session": t.state.SessionID, "hops": t.hops,
		})
		t.degraded = true
		t.reply = "I gathered part of what you asked for, but ran out of room to finish. Could you narrow the request?"
		return NodeValidateOutput, nil
	}
	t.hops++

	calls := t.pending
	t.pending = nil
	for _, call := range calls {
		actx := domain.ActionContext{
			SessionID: t.state.SessionID,
			Mode:      t.mode,
			Enriched:  t.enriched,
			Cart:      t.state.Cart,
		}
		result, err := e.invokeAction(ctx, call, actx)
		if err != nil {
			return "", err
		}

		t.invoked = append(t.invoked, call.Name)
		if result.FromCache {
			t.cacheHits++
		} else {
			t.cacheMisses++
		}
		t.command(domain.Command{Type: domain.CommandSetLastAction, Action: call.Name})
		cartTouched := false
		for _, cmd := range result.Commands {
			t.command(cmd)
			if cmd.Type == domain.CommandMergeCart {
				cartTouched = true
			}
		}
		if cartTouched {
			e.invoker.InvalidateCart(ctx)
		}

		t.sink.Emit(domain.Event{
			Type:   domain.EventActionResult,
			Action: call.Name,
			Data:   result.Data,
		})
		t.transcript = append(t.transcript, domain.Message{
			ID:         newMessageID(),
			Role:       domain.RoleTool,
			Content:    encodeToolResult(result),
			ToolCallID: call.ID,
			CreatedAt:  e.now().UTC(),
		})
	}
	return NodeSelectAction, nil
}

func (e *Executor) validateOutput(ctx context.Context, t *turn) (string, error) {
	verdict := e.judge.ValidateOutput(ctx, t.reply, t.securityContext())
	e.recordVerdict(t, verdict)
	if !verdict.Safe {
		t.reply = verdict.Fallback
		t.degraded = true
		t.command(domain.Command{Type: domain.CommandSetError, ErrorKind: domain.ErrorKindSecurity, ErrorText: verdict.Reason})
	}
	return NodeFormatResponse, nil
}

func (e *Executor) formatResponse(t *turn) (string, error) {
	if t.reply == "" {
		t.reply = "I'm not sure how to help with that. Could you tell me more about what you're looking for?"
	}
	t.sink.Emit(domain.Event{Type: domain.EventContentChunk, Content: t.reply})

	t.command(domain.Command{
		Type: domain.CommandAppendMessage,
		Message: &domain.Message{
			ID:        newMessageID(),
			Role:      domain.RoleAssistant,
			Content:   t.reply,
			CreatedAt: e.now().UTC(),
		},
	})
	if !t.degraded {
		t.command(domain.Command{Type: domain.CommandClearError})
	}

	// Snapshot semantics: absolute values computed from the prior state,
	// so replaying the command batch cannot double-count.
	t.command(domain.Command{
		Type: domain.CommandRecordMetric,
		Metrics: &domain.MetricSnapshot{
			CacheHits:   t.state.Performance.CacheHits + t.cacheHits,
			CacheMisses: t.state.Performance.CacheMisses + t.cacheMisses,
			Errors:      t.state.Performance.Errors + errorDelta(t),
		},
	})
	return nodeTerminal, nil
}

// recover converts any node failure into a degraded response. It is itself
// infallible: whatever happened, the walk ends at FormatResponse.
func (e *Executor) recover(t *turn, from string, err error) string {
	kind := domain.Classify(err)
	e.logger.Error("turn degraded", err, map[string]interface{}{
		"session": t.state.SessionID, "node": from, "kind": string(kind),
	})

	t.degraded = true
	t.command(domain.Command{Type: domain.CommandSetError, ErrorKind: kind, ErrorText: err.Error()})
	t.sink.Emit(domain.Event{
		Type:   domain.EventError,
		Fields: map[string]string{"kind": string(kind)},
	})
	t.reply = domain.UserMessage(kind)
	return NodeFormatResponse
}

// invokeModel calls the provider under its own budget, retrying once on a
// transient failure.
func (e *Executor) invokeModel(ctx context.Context, req ports.ModelRequest) (ports.ModelResponse, error) {
	attempt := func() (ports.ModelResponse, error) {
		mctx, cancel := e.withBudget(ctx, e.budgets.ModelTimeout())
		defer cancel()
		return e.provider.Invoke(mctx, req)
	}
	resp, err := attempt()
	if err != nil && domain.Classify(err) == domain.ErrorKindTransient {
		e.sleep(ctx, e.budgets.RetryBackoff())
		resp, err = attempt()
	}
	return resp, err
}

// invokeAction runs one tool call under the dependency budget, retrying
// once on a transient failure.
func (e *Executor) invokeAction(ctx context.Context, call domain.ToolCall, actx domain.ActionContext) (domain.ActionResult, error) {
	attempt := func() (domain.ActionResult, error) {
		dctx, cancel := e.withBudget(ctx, e.budgets.DependencyTimeout())
		defer cancel()
		return e.invoker.Invoke(dctx, call.Name, call.Params, actx)
	}
	result, err := attempt()
	if err != nil && domain.Classify(err) == domain.ErrorKindTransient {
		e.sleep(ctx, e.budgets.RetryBackoff())
		result, err = attempt()
	}
	return result, err
}

func (e *Executor) buildTranscript(t *turn) []domain.Message {
	transcript := make([]domain.Message, 0, len(t.state.Messages)+3)
	transcript = append(transcript, domain.Message{
		ID:      newMessageID(),
		Role:    domain.RoleSystem,
		Content: systemPrompt + "\n\n" + encodeContext(t),
	})
	transcript = append(transcript, t.state.Messages...)
	transcript = append(transcript, domain.Message{
		ID:        newMessageID(),
		Role:      domain.RoleUser,
		Content:   t.req.Message,
		CreatedAt: e.now().UTC(),
	})
	return transcript
}

func (e *Executor) recordVerdict(t *turn, verdict domain.SecurityVerdict) {
	record := verdict.Record(e.now().UTC())
	t.command(domain.Command{Type: domain.CommandAppendValidation, Validation: &record})
	if threat := security.ThreatFor(verdict); threat != domain.ThreatNone &&
		moreSevereThreat(threat, t.state.Security.ThreatLevel) {
		t.command(domain.Command{Type: domain.CommandSetThreatLevel, Threat: threat})
	}
}

func (e *Executor) recordDuration(t *turn, node string, started time.Time) {
	t.command(domain.Command{
		Type:       domain.CommandRecordNodeDuration,
		Node:       node,
		DurationMs: e.now().Sub(started).Milliseconds(),
	})
}

func (e *Executor) maxToolHops() int {
	if e.budgets.MaxToolHops > 0 {
		return e.budgets.MaxToolHops
	}
	return defaultMaxToolHops
}

func (e *Executor) withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func errorDelta(t *turn) int64 {
	if t.degraded {
		return 1
	}
	return 0
}

func encodeContext(t *turn) string {
	blob, err := json.Marshal(map[string]any{
		"mode":    t.mode,
		"cart":    t.state.Cart,
		"context": t.enriched,
	})
	if err != nil {
		return ""
	}
	return "Session context: " + string(blob)
}

func encodeToolResult(result domain.ActionResult) string {
	blob, err := json.Marshal(struct {
		Summary string         `json:"summary"`
		Data    map[string]any `json:"data,omitempty"`
	}{result.Summary, result.Data})
	if err != nil {
		return result.Summary
	}
	return string(blob)
}

func moreSevereThreat(next, current domain.ThreatLevel) bool {
	order := map[domain.ThreatLevel]int{
		domain.ThreatNone:     0,
		domain.ThreatElevated: 1,
		domain.ThreatSevere:   2,
	}
	return order[next] > order[current]
}

func newMessageID() string {
	return ulid.Make().String()
}
