package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps chunks in PostgreSQL with pgvector embeddings and
// full-text keyword ranking.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(ctx context.Context, databaseURL string, embeddingDim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if embeddingDim <= 0 {
		embeddingDim = 256
	}

	s := &PostgresStore{pool: pool, dim: embeddingDim}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			ordinal INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		);`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_source ON knowledge_chunks (source_id);`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_fts ON knowledge_chunks USING GIN (to_tsvector('english', content));`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Add indexes a chunk. Ingestion is normally external; this supports
// seeding and backfills.
func (s *PostgresStore) Add(ctx context.Context, chunk Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_chunks (id, source_id, content, embedding, ordinal, metadata)
		 VALUES ($1, $2, $3, $4::vector, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		chunk.ID, chunk.SourceID, chunk.Content, vectorLiteral(chunk.Embedding), chunk.Ordinal, chunk.Metadata,
	)
	if err != nil {
		return fmt.Errorf("add chunk: %w", err)
	}
	return nil
}

func (s *PostgresStore) VectorSearch(ctx context.Context, embedding []float64, sourceIDs []string, limit int) ([]ScoredChunk, error) {
	if limit <= 0 || len(sourceIDs) == 0 || len(embedding) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, content, ordinal, metadata, 1 - (embedding <=> $1::vector) AS score
		 FROM knowledge_chunks
		 WHERE source_id = ANY($2) AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`,
		vectorLiteral(embedding), sourceIDs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return scanScored(rows)
}

func (s *PostgresStore) KeywordSearch(ctx context.Context, terms []string, sourceIDs []string, limit int) ([]ScoredChunk, error) {
	if limit <= 0 || len(sourceIDs) == 0 || len(terms) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, content, ordinal, metadata,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		 FROM knowledge_chunks
		 WHERE source_id = ANY($2)
		   AND to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $3`,
		strings.Join(terms, " "), sourceIDs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return scanScored(rows)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func scanScored(rows pgxRows) ([]ScoredChunk, error) {
	defer rows.Close()
	var out []ScoredChunk
	for rows.Next() {
		var c ScoredChunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Content, &c.Ordinal, &c.Metadata, &c.Score); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return out, nil
}

// vectorLiteral renders an embedding in pgvector input syntax.
func vectorLiteral(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
