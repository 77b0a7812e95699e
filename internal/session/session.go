package session

import (
	"errors"
	"time"

	"github.com/openscreen/triage/internal/assessment"
	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/strategy"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition encodes the monotonic state machine: active moves to any
// other state, paused resumes to active or is abandoned, terminal states
// never move.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusActive:
		return to == StatusCompleted || to == StatusPaused || to == StatusError || to == StatusCancelled
	case StatusPaused:
		return to == StatusActive || to == StatusCancelled || to == StatusError
	default:
		return false
	}
}

type Kind string

const (
	KindScreening    Kind = "screening"
	KindAssessment   Kind = "assessment"
	KindFollowUp     Kind = "follow_up"
	KindConsultation Kind = "consultation"
)

type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type TurnKind string

const (
	TurnQuestion      TurnKind = "question"
	TurnResponse      TurnKind = "response"
	TurnSummary       TurnKind = "summary"
	TurnAssessment    TurnKind = "assessment"
	TurnClarification TurnKind = "clarification"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition rejects status moves out of a terminal state.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Session is one conversation instance. It is owned exclusively by the
// orchestrator: created at conversation start, mutated only under the
// per-session lock, never deleted by this core.
type Session struct {
	ID          string                `json:"session_id"`
	PatientID   string                `json:"patient_id"`
	StrategyID  string                `json:"strategy_id"`
	Kind        Kind                  `json:"kind"`
	Status      Status                `json:"status"`
	Strategy    strategy.Strategy     `json:"strategy"`
	Context     map[string]fieldmap.Value `json:"context"`
	Extracted   fieldmap.Map          `json:"extracted"`
	Assessment  *assessment.Result    `json:"assessment,omitempty"`
	Turns       int                   `json:"turns"`
	Eligible    bool                  `json:"eligible"`
	Diagnostics []strategy.Diagnostic `json:"diagnostics,omitempty"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the session to a new status, enforcing monotonicity.
func (s *Session) Transition(to Status) error {
	if s.Status == to {
		return nil
	}
	if !s.Status.CanTransition(to) {
		return ErrInvalidTransition
	}
	s.Status = to
	now := time.Now().UTC()
	s.LastActivityAt = now
	if to.Terminal() {
		s.CompletedAt = &now
	}
	return nil
}

// Message is one immutable turn in a session, append-only.
type Message struct {
	ID         string                    `json:"message_id"`
	SessionID  string                    `json:"session_id"`
	Role       Role                      `json:"role"`
	Kind       TurnKind                  `json:"kind"`
	Content    string                    `json:"content"`
	Sources    []string                  `json:"sources,omitempty"`
	Confidence *float64                  `json:"confidence,omitempty"`
	Entities   map[string]fieldmap.Value `json:"entities,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
}
