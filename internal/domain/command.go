package domain

import (
	"fmt"
	"time"
)

// CommandType tags one atomic effect on ConversationState.
type CommandType string

const (
	CommandSetMode             CommandType = "SET_MODE"
	CommandMergeCart           CommandType = "MERGE_CART"
	CommandAppendMessage       CommandType = "APPEND_MESSAGE"
	CommandAppendValidation    CommandType = "APPEND_VALIDATION"
	CommandRecordMetric        CommandType = "RECORD_METRIC"
	CommandRecordNodeDuration  CommandType = "RECORD_NODE_DURATION"
	CommandSetAvailableActions CommandType = "SET_AVAILABLE_ACTIONS"
	CommandSetLastAction       CommandType = "SET_LAST_ACTION"
	CommandSetError            CommandType = "SET_ERROR"
	CommandClearError          CommandType = "CLEAR_ERROR"
	CommandSetThreatLevel      CommandType = "SET_THREAT_LEVEL"
	CommandSetRateTokens       CommandType = "SET_RATE_TOKENS"
)

// Command describes one state mutation. Commands are pure data: applying the
// same command twice to the same prior state yields the same result for every
// type except APPEND_MESSAGE and APPEND_VALIDATION, which are ordered appends.
type Command struct {
	Type CommandType `json:"type"`

	Mode       Mode              `json:"mode,omitempty"`
	CartItems  []CartItem        `json:"cart_items,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Message    *Message          `json:"message,omitempty"`
	Validation *ValidationRecord `json:"validation,omitempty"`
	Metrics    *MetricSnapshot   `json:"metrics,omitempty"`
	Node       string            `json:"node,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Actions    []string          `json:"actions,omitempty"`
	Action     string            `json:"action,omitempty"`
	ErrorKind  ErrorKind         `json:"error_kind,omitempty"`
	ErrorText  string            `json:"error_text,omitempty"`
	Threat     ThreatLevel       `json:"threat,omitempty"`
	RateTokens float64           `json:"rate_tokens,omitempty"`
}

// MetricSnapshot carries absolute counter values so RECORD_METRIC stays
// idempotent. Producers compute prior value + delta before emitting.
type MetricSnapshot struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	Errors      int64 `json:"errors"`
}

// Apply is the single reducer for conversation state. It never mutates its
// input; callers receive a fresh state value.
func Apply(state ConversationState, cmd Command) (ConversationState, error) {
	next := state.Clone()
	next.UpdatedAt = time.Now().UTC()

	switch cmd.Type {
	case CommandSetMode:
		if cmd.Mode != ModeB2C && cmd.Mode != ModeB2B {
			return state, fmt.Errorf("apply %s: invalid mode %q", cmd.Type, cmd.Mode)
		}
		next.Mode = cmd.Mode

	case CommandMergeCart:
		next.Cart = mergeCart(next.Cart, cmd.CartItems, cmd.Currency)

	case CommandAppendMessage:
		if cmd.Message == nil {
			return state, fmt.Errorf("apply %s: nil message", cmd.Type)
		}
		next.Messages = append(next.Messages, *cmd.Message)

	case CommandAppendValidation:
		if cmd.Validation == nil {
			return state, fmt.Errorf("apply %s: nil validation record", cmd.Type)
		}
		next.Security.ValidationHistory = append(next.Security.ValidationHistory, *cmd.Validation)
		if overflow := len(next.Security.ValidationHistory) - ValidationHistoryLimit; overflow > 0 {
			next.Security.ValidationHistory = next.Security.ValidationHistory[overflow:]
		}

	case CommandRecordMetric:
		if cmd.Metrics == nil {
			return state, fmt.Errorf("apply %s: nil metrics", cmd.Type)
		}
		next.Performance.CacheHits = cmd.Metrics.CacheHits
		next.Performance.CacheMisses = cmd.Metrics.CacheMisses
		next.Performance.Errors = cmd.Metrics.Errors

	case CommandRecordNodeDuration:
		if cmd.Node == "" {
			return state, fmt.Errorf("apply %s: empty node name", cmd.Type)
		}
		if next.Performance.PerNodeDurationsMs == nil {
			next.Performance.PerNodeDurationsMs = make(map[string]int64)
		}
		next.Performance.PerNodeDurationsMs[cmd.Node] = cmd.DurationMs

	case CommandSetAvailableActions:
		next.AvailableActions = append([]string(nil), cmd.Actions...)

	case CommandSetLastAction:
		next.LastAction = cmd.Action

	case CommandSetError:
		next.LastError = string(cmd.ErrorKind)
		if cmd.ErrorText != "" {
			next.LastError = string(cmd.ErrorKind) + ": " + cmd.ErrorText
		}

	case CommandClearError:
		next.LastError = ""

	case CommandSetThreatLevel:
		next.Security.ThreatLevel = cmd.Threat

	case CommandSetRateTokens:
		next.Security.RateTokensRemaining = cmd.RateTokens

	default:
		return state, fmt.Errorf("apply: unknown command type %q", cmd.Type)
	}

	return next, nil
}

// ApplyAll applies commands in order, stopping at the first failure.
func ApplyAll(state ConversationState, cmds []Command) (ConversationState, error) {
	var err error
	for i, cmd := range cmds {
		state, err = Apply(state, cmd)
		if err != nil {
			return state, fmt.Errorf("command %d: %w", i, err)
		}
	}
	return state, nil
}

// mergeCart upserts line items by (product, variant) identity. A zero
// quantity removes the line. The totals cache version bumps only when the
// cart actually changed, which keeps MERGE_CART idempotent: replaying the
// same command against the resulting state is a no-op.
func mergeCart(cart CartSnapshot, items []CartItem, currency string) CartSnapshot {
	changed := false
	if currency != "" && currency != cart.Currency {
		cart.Currency = currency
		changed = true
	}
	for _, incoming := range items {
		idx := -1
		for i, existing := range cart.Items {
			if existing.ProductID == incoming.ProductID && existing.VariantID == incoming.VariantID {
				idx = i
				break
			}
		}
		switch {
		case incoming.Quantity <= 0 && idx >= 0:
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			changed = true
		case incoming.Quantity <= 0:
			// removing an absent line is a no-op
		case idx >= 0:
			if cart.Items[idx] != incoming {
				cart.Items[idx] = incoming
				changed = true
			}
		default:
			cart.Items = append(cart.Items, incoming)
			changed = true
		}
	}
	if changed {
		cart.TotalsCacheVersion++
	}
	return cart
}
