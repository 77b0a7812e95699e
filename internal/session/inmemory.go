package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/strategy"
)

// InMemoryStore is a simple in-process session store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]Session)}
}

func (s *InMemoryStore) Save(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *InMemoryStore) ListByPatient(_ context.Context, patientID string, limit int) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, 4)
	for _, sess := range s.sessions {
		if sess.PatientID == patientID {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// cloneSession deep-copies the mutable parts so callers cannot alias
// store-held state.
func cloneSession(sess Session) Session {
	out := sess
	out.Strategy = sess.Strategy.Snapshot()
	out.Extracted = sess.Extracted.Clone()
	if sess.Context != nil {
		out.Context = make(map[string]fieldmap.Value, len(sess.Context))
		for k, v := range sess.Context {
			out.Context[k] = v
		}
	}
	if sess.Assessment != nil {
		a := *sess.Assessment
		out.Assessment = &a
	}
	out.Diagnostics = append([]strategy.Diagnostic(nil), sess.Diagnostics...)
	if sess.CompletedAt != nil {
		t := *sess.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// InMemoryMessageStore keeps transcripts per session, append-only.
type InMemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
}

func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{messages: make(map[string][]Message)}
}

func (s *InMemoryMessageStore) Append(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	return nil
}

func (s *InMemoryMessageStore) History(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Message, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryMessageStore) Close() error { return nil }
