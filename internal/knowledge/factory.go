package knowledge

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed chunk store when configured, otherwise
// the in-memory store.
func NewStore(ctx context.Context, databaseURL string, embeddingDim int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL, embeddingDim)
}
