// Package domain defines core business entities and value objects for merchat.
//
// The domain layer is independent of infrastructure concerns. Conversation
// state is only ever mutated by applying Commands (see command.go), which
// keeps every turn replayable and auditable.
package domain

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured action invocation requested by the model.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Message is one turn entry in the conversation transcript.
// Messages are append-only; the windowing policy may drop the oldest ones.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-result message back to the call that produced it.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CartItem is one line in the cart snapshot. Prices are minor units (cents).
type CartItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// CartSnapshot is the current cart. Mutations merge line items by
// (product, variant) identity; the snapshot is never replaced wholesale.
type CartSnapshot struct {
	Items              []CartItem `json:"items"`
	Currency           string     `json:"currency"`
	TotalsCacheVersion int        `json:"totals_cache_version"`
}

// Total returns the cart total in minor units.
func (c CartSnapshot) Total() int64 {
	var total int64
	for _, item := range c.Items {
		total += int64(item.Quantity) * item.UnitPrice
	}
	return total
}

// ThreatLevel summarizes accumulated security posture for a session.
type ThreatLevel string

const (
	ThreatNone     ThreatLevel = "none"
	ThreatElevated ThreatLevel = "elevated"
	ThreatSevere   ThreatLevel = "severe"
)

// ValidationRecord is one audit entry produced by the security judge.
type ValidationRecord struct {
	Stage  string    `json:"stage"`
	Safe   bool      `json:"safe"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ValidationHistoryLimit bounds the per-session audit ring.
const ValidationHistoryLimit = 32

// SecurityState holds per-session security telemetry.
type SecurityState struct {
	ThreatLevel         ThreatLevel        `json:"threat_level"`
	ValidationHistory   []ValidationRecord `json:"validation_history,omitempty"`
	RateTokensRemaining float64            `json:"rate_tokens_remaining"`
}

// PerformanceState holds per-session latency and cache telemetry.
type PerformanceState struct {
	PerNodeDurationsMs map[string]int64 `json:"per_node_durations_ms,omitempty"`
	CacheHits          int64            `json:"cache_hits"`
	CacheMisses        int64            `json:"cache_misses"`
	Errors             int64            `json:"errors"`
}

// ConversationState is the single source of truth for one session.
// Every field is mutated exclusively through Apply.
type ConversationState struct {
	SessionID   string           `json:"session_id"`
	Mode        Mode             `json:"mode"`
	Messages    []Message        `json:"messages"`
	Cart        CartSnapshot     `json:"cart"`
	Security    SecurityState    `json:"security"`
	Performance PerformanceState `json:"performance"`
	// AvailableActions is derived each turn from mode and capabilities; it is
	// persisted for inspection only, never treated as authoritative.
	AvailableActions []string  `json:"available_actions,omitempty"`
	LastAction       string    `json:"last_action,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewConversationState builds the initial state for a session.
func NewConversationState(sessionID string) ConversationState {
	return ConversationState{
		SessionID: sessionID,
		Mode:      ModeB2C,
		Cart:      CartSnapshot{Currency: "USD"},
		Security:  SecurityState{ThreatLevel: ThreatNone},
	}
}

// Clone returns a deep copy so concurrent readers never share slices or maps.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Cart.Items = append([]CartItem(nil), s.Cart.Items...)
	out.Security.ValidationHistory = append([]ValidationRecord(nil), s.Security.ValidationHistory...)
	out.AvailableActions = append([]string(nil), s.AvailableActions...)
	if s.Performance.PerNodeDurationsMs != nil {
		out.Performance.PerNodeDurationsMs = make(map[string]int64, len(s.Performance.PerNodeDurationsMs))
		for k, v := range s.Performance.PerNodeDurationsMs {
			out.Performance.PerNodeDurationsMs[k] = v
		}
	}
	return out
}
