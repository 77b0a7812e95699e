package session

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// NewMessageStore mirrors NewStore for the transcript log.
func NewMessageStore(ctx context.Context, databaseURL string) (MessageStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryMessageStore(), nil
	}
	return NewPostgresMessageStore(ctx, databaseURL)
}
