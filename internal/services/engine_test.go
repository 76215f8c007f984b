package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/doeshing/merchat/internal/cache"
	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/graph"
	"github.com/doeshing/merchat/internal/infrastructure/data"
	"github.com/doeshing/merchat/internal/infrastructure/model"
	"github.com/doeshing/merchat/internal/intelligence"
	"github.com/doeshing/merchat/internal/pkg/logger"
	"github.com/doeshing/merchat/internal/ports"
	"github.com/doeshing/merchat/internal/registry"
	"github.com/doeshing/merchat/internal/security"
	"github.com/doeshing/merchat/internal/state"
)

func defaultBudgets() domain.BudgetSettings {
	return domain.BudgetSettings{
		StandardTurnMs: 5000,
		BulkTurnMs:     5000,
		DependencyMs:   1000,
		ModelMs:        1000,
		MaxToolHops:    5,
		RetryBackoffMs: 1,
	}
}

func defaultSecurity() domain.SecuritySettings {
	return domain.SecuritySettings{Enabled: true, RatePerMinute: 600, RateBurst: 100, MinUnitPriceCents: 100}
}

func newTestEngine(t *testing.T, settings domain.SecuritySettings, budgets domain.BudgetSettings, script model.Script) *Engine {
	t.Helper()

	backend := data.NewMemoryBackend()
	reg := registry.New()
	if err := reg.Replace(registry.NewBuiltins(backend).Definitions()); err != nil {
		t.Fatalf("install builtins: %v", err)
	}
	judge, err := security.NewJudge(settings, nil, logger.Nop{})
	if err != nil {
		t.Fatalf("build judge: %v", err)
	}
	tiered := cache.NewTiered(cache.NewLRU(64), nil, logger.Nop{})
	invoker := registry.NewInvoker(reg, tiered, backend.Capabilities(), logger.Nop{})
	executor := graph.New(graph.Config{
		Judge:    judge,
		Detector: intelligence.NewModeDetector(backend, 100*time.Millisecond, logger.Nop{}),
		Enricher: intelligence.NewEnricher(backend, 500*time.Millisecond, logger.Nop{}),
		Registry: reg,
		Invoker:  invoker,
		Provider: model.NewScriptedProvider(domain.ModelDefinition{Name: "scripted"}, script),
		Caps:     backend.Capabilities(),
		Budgets:  budgets,
		Logger:   logger.Nop{},
	})

	return &Engine{
		Store:    state.NewStore(nil, 50, logger.Nop{}),
		Executor: executor,
		Judge:    judge,
		Budgets:  budgets,
		Logger:   logger.Nop{},
	}
}

func replyScript(reply string) model.Script {
	return func(ports.ModelRequest) ports.ModelResponse {
		return ports.ModelResponse{Content: reply}
	}
}

func TestEngineAppliesTurnCommands(t *testing.T) {
	engine := newTestEngine(t, defaultSecurity(), defaultBudgets(), replyScript("Happy to help with that."))

	resp, err := engine.Run(domain.TurnRequest{
		Context:   context.Background(),
		SessionID: "sess-apply",
		Message:   "hello there",
	}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Reply != "Happy to help with that." {
		t.Fatalf("reply = %q", resp.Reply)
	}
	if resp.Degraded {
		t.Fatal("turn unexpectedly degraded")
	}

	lease, err := engine.Store.Acquire(context.Background(), "sess-apply")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()
	got := lease.State()

	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != domain.RoleUser || got.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("roles = %s, %s", got.Messages[0].Role, got.Messages[1].Role)
	}
	if got.Security.RateTokensRemaining <= 0 {
		t.Fatalf("rate tokens not recorded: %v", got.Security.RateTokensRemaining)
	}
	if len(got.AvailableActions) == 0 {
		t.Fatal("available actions not recorded")
	}
}

func TestEngineRateLimitShortCircuits(t *testing.T) {
	settings := defaultSecurity()
	settings.RatePerMinute = 1
	settings.RateBurst = 1
	engine := newTestEngine(t, settings, defaultBudgets(), replyScript("ok"))

	first, err := engine.Run(domain.TurnRequest{
		Context:   context.Background(),
		SessionID: "sess-rate",
		Message:   "hello",
	}, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Degraded {
		t.Fatal("first turn should pass the rate gate")
	}

	second, err := engine.Run(domain.TurnRequest{
		Context:   context.Background(),
		SessionID: "sess-rate",
		Message:   "hello again",
	}, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Degraded {
		t.Fatal("second turn should be rate limited")
	}
	if !strings.Contains(second.Reply, "too quickly") {
		t.Fatalf("reply = %q, want rate limit fallback", second.Reply)
	}
	if second.LastError == "" {
		t.Fatal("rate limited turn should record an error")
	}

	lease, err := engine.Store.Acquire(context.Background(), "sess-rate")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()
	got := lease.State()
	if len(got.Security.ValidationHistory) == 0 {
		t.Fatal("rate rejection missing from validation history")
	}
	last := got.Security.ValidationHistory[len(got.Security.ValidationHistory)-1]
	if last.Safe {
		t.Fatal("last validation record should be a rejection")
	}
}

func TestEngineRateLimitIsolatesSessions(t *testing.T) {
	settings := defaultSecurity()
	settings.RatePerMinute = 1
	settings.RateBurst = 1
	engine := newTestEngine(t, settings, defaultBudgets(), replyScript("ok"))

	if _, err := engine.Run(domain.TurnRequest{Context: context.Background(), SessionID: "sess-a", Message: "hi"}, nil); err != nil {
		t.Fatalf("sess-a: %v", err)
	}
	resp, err := engine.Run(domain.TurnRequest{Context: context.Background(), SessionID: "sess-b", Message: "hi"}, nil)
	if err != nil {
		t.Fatalf("sess-b: %v", err)
	}
	if resp.Degraded {
		t.Fatal("another session's spend must not rate limit sess-b")
	}
}

func TestEngineRejectsMissingSessionID(t *testing.T) {
	engine := newTestEngine(t, defaultSecurity(), defaultBudgets(), replyScript("ok"))
	if _, err := engine.Run(domain.TurnRequest{Context: context.Background(), Message: "hi"}, nil); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestEngineTurnDeadlineDegrades(t *testing.T) {
	budgets := defaultBudgets()
	budgets.StandardTurnMs = 5
	engine := newTestEngine(t, defaultSecurity(), budgets, func(ports.ModelRequest) ports.ModelResponse {
		time.Sleep(30 * time.Millisecond)
		return ports.ModelResponse{Content: "too late"}
	})

	resp, err := engine.Run(domain.TurnRequest{
		Context:   context.Background(),
		SessionID: "sess-deadline",
		Message:   "hello",
	}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !resp.Degraded {
		t.Fatal("expired deadline should degrade the turn")
	}
	if resp.Reply == "" {
		t.Fatal("degraded turn must still produce a reply")
	}

	// State persisted even though the turn deadline expired.
	lease, err := engine.Store.Acquire(context.Background(), "sess-deadline")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()
	if got := lease.State(); len(got.Messages) == 0 {
		t.Fatal("turn commands were not applied")
	}
}

func TestEngineRepeatTurnCountsCacheHit(t *testing.T) {
	script := func(req ports.ModelRequest) ports.ModelResponse {
		for _, msg := range req.Messages {
			if msg.Role == domain.RoleTool {
				return ports.ModelResponse{Content: "We carry the Orbit 15 line."}
			}
		}
		return ports.ModelResponse{ToolCalls: []domain.ToolCall{{
			ID: "c1", Name: "catalog_search", Params: map[string]any{"query": "laptop"},
		}}}
	}
	engine := newTestEngine(t, defaultSecurity(), defaultBudgets(), script)

	for i := 0; i < 2; i++ {
		resp, err := engine.Run(domain.TurnRequest{
			Context:   context.Background(),
			SessionID: "sess-cache",
			Message:   "show me laptops",
		}, nil)
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if resp.Degraded {
			t.Fatalf("turn %d degraded", i)
		}
	}

	lease, err := engine.Store.Acquire(context.Background(), "sess-cache")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release()
	perf := lease.State().Performance

	// Identical search, identical mode: the second turn is served from L1.
	if perf.CacheMisses != 1 {
		t.Fatalf("cache misses = %d, want 1", perf.CacheMisses)
	}
	if perf.CacheHits != 1 {
		t.Fatalf("cache hits = %d, want 1", perf.CacheHits)
	}
}

func TestEngineEmitsEventsOnRateLimit(t *testing.T) {
	settings := defaultSecurity()
	settings.RatePerMinute = 1
	settings.RateBurst = 1
	engine := newTestEngine(t, settings, defaultBudgets(), replyScript("ok"))

	if _, err := engine.Run(domain.TurnRequest{Context: context.Background(), SessionID: "sess-ev", Message: "hi"}, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}

	var types []domain.EventType
	sink := domain.EventSinkFunc(func(e domain.Event) { types = append(types, e.Type) })
	if _, err := engine.Run(domain.TurnRequest{Context: context.Background(), SessionID: "sess-ev", Message: "hi"}, sink); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(types) != 2 || types[0] != domain.EventContentChunk || types[1] != domain.EventDone {
		t.Fatalf("events = %v, want [content-chunk done]", types)
	}
}
