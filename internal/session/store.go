package session

import "context"

// Store persists screening sessions. Implementations must return copies:
// callers mutate sessions under the orchestrator's lock and save explicitly.
type Store interface {
	Save(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]Session, error)
	Close() error
}

// MessageStore is the append-only transcript log.
type MessageStore interface {
	Append(ctx context.Context, m Message) error
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	Close() error
}
