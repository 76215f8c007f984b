package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Applying the same command twice must land on the same state for every
// type except the ordered appends. The second application runs against the
// first application's output, the same shape a replayed batch produces.
func TestApplyIdempotentCommands(t *testing.T) {
	base := NewConversationState("s1")
	base.Cart = CartSnapshot{
		Currency:           "USD",
		Items:              []CartItem{{ProductID: "LPT-100", Quantity: 1, UnitPrice: 129900}},
		TotalsCacheVersion: 3,
	}
	base.LastError = "transient_dependency: upstream hiccup"

	cases := []struct {
		name string
		cmd  Command
	}{
		{"set mode", Command{Type: CommandSetMode, Mode: ModeB2B}},
		{"merge cart upsert", Command{Type: CommandMergeCart, Currency: "USD",
			CartItems: []CartItem{{ProductID: "LPT-100", Quantity: 4, UnitPrice: 129900}}}},
		{"merge cart new line", Command{Type: CommandMergeCart, Currency: "USD",
			CartItems: []CartItem{{ProductID: "KBD-400", Quantity: 2, UnitPrice: 12900}}}},
		{"merge cart remove", Command{Type: CommandMergeCart,
			CartItems: []CartItem{{ProductID: "LPT-100", Quantity: 0}}}},
		{"record metric", Command{Type: CommandRecordMetric,
			Metrics: &MetricSnapshot{CacheHits: 7, CacheMisses: 2, Errors: 1}}},
		{"record node duration", Command{Type: CommandRecordNodeDuration, Node: "select_action", DurationMs: 12}},
		{"set available actions", Command{Type: CommandSetAvailableActions, Actions: []string{"catalog_search", "get_pricing"}}},
		{"set last action", Command{Type: CommandSetLastAction, Action: "catalog_search"}},
		{"set error", Command{Type: CommandSetError, ErrorKind: ErrorKindTransient, ErrorText: "upstream hiccup"}},
		{"clear error", Command{Type: CommandClearError}},
		{"set threat level", Command{Type: CommandSetThreatLevel, Threat: ThreatElevated}},
		{"set rate tokens", Command{Type: CommandSetRateTokens, RateTokens: 12.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once, err := Apply(base, tc.cmd)
			if err != nil {
				t.Fatalf("first apply: %v", err)
			}
			twice, err := Apply(once, tc.cmd)
			if err != nil {
				t.Fatalf("second apply: %v", err)
			}
			diff := cmp.Diff(once, twice, cmpopts.IgnoreFields(ConversationState{}, "UpdatedAt"))
			if diff != "" {
				t.Errorf("second apply changed state (-first +second):\n%s", diff)
			}
		})
	}
}

func TestApplyMergeCartBumpsVersionOnlyOnChange(t *testing.T) {
	base := NewConversationState("s1")
	cmd := Command{Type: CommandMergeCart, Currency: "USD",
		CartItems: []CartItem{{ProductID: "MON-300", Quantity: 1, UnitPrice: 34900}}}

	once, err := Apply(base, cmd)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if once.Cart.TotalsCacheVersion != base.Cart.TotalsCacheVersion+1 {
		t.Fatalf("version = %d, want bump on change", once.Cart.TotalsCacheVersion)
	}
	twice, err := Apply(once, cmd)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if twice.Cart.TotalsCacheVersion != once.Cart.TotalsCacheVersion {
		t.Fatalf("replay bumped the version: %d -> %d", once.Cart.TotalsCacheVersion, twice.Cart.TotalsCacheVersion)
	}
}

func TestApplyAppendsAreOrdered(t *testing.T) {
	base := NewConversationState("s1")
	msg := Command{Type: CommandAppendMessage, Message: &Message{
		ID: "m1", Role: RoleUser, Content: "hi", CreatedAt: time.Now().UTC(),
	}}

	once, err := Apply(base, msg)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	twice, err := Apply(once, msg)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(twice.Messages) != 2 {
		t.Fatalf("messages = %d, appends are ordered, not idempotent", len(twice.Messages))
	}
}

func TestApplyRejectsMalformedCommands(t *testing.T) {
	base := NewConversationState("s1")
	cases := []Command{
		{Type: CommandSetMode, Mode: ModeUnknown},
		{Type: CommandAppendMessage},
		{Type: CommandAppendValidation},
		{Type: CommandRecordMetric},
		{Type: CommandRecordNodeDuration},
		{Type: CommandType("NO_SUCH_COMMAND")},
	}
	for _, cmd := range cases {
		if _, err := Apply(base, cmd); err == nil {
			t.Fatalf("command %+v accepted", cmd)
		}
	}
}
