package state

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/pkg/logger"
)

func userMessage(id, text string) domain.Command {
	return domain.Command{
		Type:    domain.CommandAppendMessage,
		Message: &domain.Message{ID: id, Role: domain.RoleUser, Content: text},
	}
}

func TestApplyMutatesOnlyThroughCommands(t *testing.T) {
	store := NewStore(nil, 50, logger.Nop{})
	ctx := context.Background()

	lease, err := store.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	defer lease.Release()

	// Mutating the returned copy must not leak into the store.
	leaked := lease.State()
	leaked.Cart.Items = append(leaked.Cart.Items, domain.CartItem{ProductID: "X", Quantity: 99})
	if got := lease.State(); len(got.Cart.Items) != 0 {
		t.Fatal("state copy shares memory with the store")
	}

	next, err := lease.Apply(ctx, []domain.Command{
		{Type: domain.CommandMergeCart, CartItems: []domain.CartItem{{ProductID: "LPT-100", Quantity: 2, UnitPrice: 129900}}},
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if len(next.Cart.Items) != 1 || next.Cart.TotalsCacheVersion != 1 {
		t.Fatalf("merge not applied: %+v", next.Cart)
	}
}

func TestApplyFailureLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil, 50, logger.Nop{})
	ctx := context.Background()

	lease, _ := store.Acquire(ctx, "s1")
	defer lease.Release()
	lease.Apply(ctx, []domain.Command{userMessage("m1", "hello")})
	before := lease.State()

	_, err := lease.Apply(ctx, []domain.Command{
		userMessage("m2", "world"),
		{Type: domain.CommandSetMode, Mode: domain.ModeUnknown}, // invalid
	})
	if err == nil {
		t.Fatal("invalid command accepted")
	}
	after := lease.State()
	if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(domain.ConversationState{}, "UpdatedAt")); diff != "" {
		t.Fatalf("state changed despite failed batch:\n%s", diff)
	}
}

func TestWindowingTrimsOldestMessages(t *testing.T) {
	store := NewStore(nil, 3, logger.Nop{})
	ctx := context.Background()

	lease, _ := store.Acquire(ctx, "s1")
	defer lease.Release()
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		if _, err := lease.Apply(ctx, []domain.Command{userMessage(id, id)}); err != nil {
			t.Fatalf("Apply(%s) error: %v", id, err)
		}
	}

	got := lease.State()
	if len(got.Messages) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(got.Messages))
	}
	if got.Messages[0].ID != "m3" || got.Messages[2].ID != "m5" {
		t.Fatalf("wrong window: %s..%s", got.Messages[0].ID, got.Messages[2].ID)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store := NewStore(nil, 50, logger.Nop{})
	ctx := context.Background()

	a, _ := store.Acquire(ctx, "alice")
	b, _ := store.Acquire(ctx, "bob")
	defer a.Release()
	defer b.Release()

	a.Apply(ctx, []domain.Command{{Type: domain.CommandSetMode, Mode: domain.ModeB2B}})
	if got := b.State(); got.Mode != domain.ModeB2C {
		t.Fatalf("bob inherited alice's mode: %q", got.Mode)
	}
}

func TestConcurrentTurnsOnOneSessionSerialize(t *testing.T) {
	store := NewStore(nil, 200, logger.Nop{})
	ctx := context.Background()

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			lease, err := store.Acquire(ctx, "shared")
			if err != nil {
				t.Errorf("Acquire error: %v", err)
				return
			}
			defer lease.Release()
			count := len(lease.State().Messages)
			if _, err := lease.Apply(ctx, []domain.Command{userMessage(time.Now().String(), "turn")}); err != nil {
				t.Errorf("Apply error: %v", err)
				return
			}
			if got := len(lease.State().Messages); got != count+1 {
				t.Errorf("lost update: %d -> %d", count, got)
			}
		}(i)
	}
	wg.Wait()

	lease, _ := store.Acquire(ctx, "shared")
	defer lease.Release()
	if got := len(lease.State().Messages); got != turns {
		t.Fatalf("transcript has %d messages, want %d", got, turns)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	store := NewStore(nil, 50, logger.Nop{})

	holder, _ := store.Acquire(context.Background(), "s1")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := store.Acquire(ctx, "s1"); err == nil {
		t.Fatal("second acquire succeeded while lease held")
	}
	holder.Release()

	if _, err := store.Acquire(context.Background(), "s1"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	checkpointer, err := NewSQLiteCheckpointer(path)
	if err != nil {
		t.Fatalf("NewSQLiteCheckpointer error: %v", err)
	}

	store := NewStore(checkpointer, 50, logger.Nop{})
	lease, _ := store.Acquire(ctx, "s1")
	want, err := lease.Apply(ctx, []domain.Command{
		{Type: domain.CommandSetMode, Mode: domain.ModeB2B},
		{Type: domain.CommandMergeCart, CartItems: []domain.CartItem{{ProductID: "LPT-100", Quantity: 5, UnitPrice: 119900}}},
		userMessage("m1", "bulk order please"),
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	lease.Release()
	checkpointer.Close()

	// A fresh process restores the session from disk.
	reopened, err := NewSQLiteCheckpointer(path)
	if err != nil {
		t.Fatalf("reopen checkpointer: %v", err)
	}
	defer reopened.Close()

	fresh := NewStore(reopened, 50, logger.Nop{})
	lease2, _ := fresh.Acquire(ctx, "s1")
	defer lease2.Release()

	got := lease2.State()
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(domain.ConversationState{}, "UpdatedAt")); diff != "" {
		t.Fatalf("restored state differs:\n%s", diff)
	}
}

func TestDropDeletesCheckpoint(t *testing.T) {
	ctx := context.Background()
	checkpointer, err := NewSQLiteCheckpointer(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteCheckpointer error: %v", err)
	}
	defer checkpointer.Close()

	store := NewStore(checkpointer, 50, logger.Nop{})
	lease, _ := store.Acquire(ctx, "s1")
	lease.Apply(ctx, []domain.Command{userMessage("m1", "hi")})
	lease.Release()

	if err := store.Drop(ctx, "s1"); err != nil {
		t.Fatalf("Drop error: %v", err)
	}
	if _, found, _ := checkpointer.Load(ctx, "s1"); found {
		t.Fatal("checkpoint survived drop")
	}
	lease2, _ := store.Acquire(ctx, "s1")
	defer lease2.Release()
	if len(lease2.State().Messages) != 0 {
		t.Fatal("dropped session restored with old transcript")
	}
}
