// Package graph runs one conversation turn as a walk over a fixed node
// graph. Nodes are pure steps over an accumulating turn context; every
// effect leaves as a domain command, and any node error routes through
// recovery into a degraded but well-formed response.
package graph

import (
	"github.com/doeshing/merchat/internal/domain"
)

// Node names. Also the keys under which per-node latency is recorded.
const (
	NodeValidateInput  = "validate_input"
	NodeDetectMode     = "detect_mode"
	NodeEnrichContext  = "enrich_context"
	NodeSelectAction   = "select_action"
	NodeExecuteTool    = "execute_tool"
	NodeValidateOutput = "validate_output"
	NodeFormatResponse = "format_response"
	NodeRecovery       = "error_recovery"
	nodeTerminal       = "terminal"
)

// Outcome is what a finished walk hands back to the engine.
type Outcome struct {
	Reply          string
	Mode           domain.Mode
	Commands       []domain.Command
	ActionsInvoked []string
	Degraded       bool
}

// turn is the mutable context threaded through the walk. It lives for
// exactly one RunTurn call and is never shared.
type turn struct {
	req      domain.TurnRequest
	state    domain.ConversationState
	sink     domain.EventSink
	mode     domain.Mode
	enriched domain.EnrichedContext
	// transcript is the model-visible message list for this turn,
	// grown as tool calls and results accumulate.
	transcript  []domain.Message
	commands    []domain.Command
	invoked     []string
	pending     []domain.ToolCall
	reply       string
	hops        int
	degraded    bool
	cacheHits   int64
	cacheMisses int64
}

func (t *turn) command(cmd domain.Command) {
	t.commands = append(t.commands, cmd)
}

func (t *turn) securityContext() domain.SecurityContext {
	return domain.SecurityContext{
		SessionID:        t.state.SessionID,
		Mode:             t.mode,
		Cart:             t.state.Cart,
		AvailableActions: t.state.AvailableActions,
		ThreatLevel:      t.state.Security.ThreatLevel,
	}
}
