// Package state owns conversation state. All mutation flows through domain
// commands; the store adds per-session turn serialization, history
// windowing, and checkpoint persistence on top of the pure reducer.
package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Store tracks live sessions. Concurrent turns for different sessions run
// freely; concurrent turns for the same session queue on its lease.
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*session
	checkpointer ports.Checkpointer
	historyLimit int
	logger       ports.Logger
}

type session struct {
	lease chan struct{}
	state domain.ConversationState
}

// Lease is exclusive access to one session's state between Acquire and
// Release. State reads and applies outside a lease are race conditions by
// construction, so there is no other accessor.
type Lease struct {
	store   *Store
	session *session
	id      string
}

// NewStore creates a store. checkpointer may be nil to disable persistence.
func NewStore(checkpointer ports.Checkpointer, historyLimit int, logger ports.Logger) *Store {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Store{
		sessions:     make(map[string]*session),
		checkpointer: checkpointer,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Acquire leases the session, creating or restoring it on first touch.
// It blocks until the previous turn releases or ctx expires.
func (s *Store) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{lease: make(chan struct{}, 1), state: s.restore(ctx, sessionID)}
		s.sessions[sessionID] = sess
	}
	s.mu.Unlock()

	select {
	case sess.lease <- struct{}{}:
		return &Lease{store: s, session: sess, id: sessionID}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session %s: %w", sessionID, ctx.Err())
	}
}

func (s *Store) restore(ctx context.Context, sessionID string) domain.ConversationState {
	if s.checkpointer != nil {
		restored, found, err := s.checkpointer.Load(ctx, sessionID)
		if err != nil {
			s.logger.Warn("checkpoint restore failed, starting fresh", map[string]interface{}{
				"session": sessionID, "error": err.Error(),
			})
		} else if found {
			return restored
		}
	}
	return domain.NewConversationState(sessionID)
}

// State returns a deep copy of the leased session's state.
func (l *Lease) State() domain.ConversationState {
	return l.session.state.Clone()
}

// Apply runs the commands through the reducer, windows the transcript, and
// checkpoints the result. On reducer error no state changes.
func (l *Lease) Apply(ctx context.Context, cmds []domain.Command) (domain.ConversationState, error) {
	next, err := domain.ApplyAll(l.session.state, cmds)
	if err != nil {
		return l.session.state.Clone(), err
	}
	next = l.store.window(next)
	l.session.state = next

	if l.store.checkpointer != nil {
		if err := l.store.checkpointer.Save(ctx, next); err != nil {
			// Persistence is best-effort; the in-memory state is the
			// live source of truth for this process.
			l.store.logger.Warn("checkpoint save failed", map[string]interface{}{
				"session": l.id, "error": err.Error(),
			})
		}
	}
	return next.Clone(), nil
}

// Release returns the lease. The lease must not be used afterwards.
func (l *Lease) Release() {
	<-l.session.lease
}

// window trims the transcript to the history limit, dropping oldest
// messages first. Cart, security, and performance state never shrink.
func (s *Store) window(state domain.ConversationState) domain.ConversationState {
	if overflow := len(state.Messages) - s.historyLimit; overflow > 0 {
		state.Messages = append([]domain.Message(nil), state.Messages[overflow:]...)
	}
	return state
}

// Drop forgets the session in memory and deletes its checkpoint.
func (s *Store) Drop(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if s.checkpointer != nil {
		return s.checkpointer.Delete(ctx, sessionID)
	}
	return nil
}

// Sessions lists the session IDs currently live in memory.
func (s *Store) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
