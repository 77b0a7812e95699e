package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a simple in-process chunk store for local/dev use and
// tests. Reads take the lock briefly and operate on immutable chunks.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks []Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add indexes a chunk. Ingestion is external in production; this exists so
// the dev wiring and tests can seed a corpus.
func (s *MemoryStore) Add(chunk Chunk) {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
}

func (s *MemoryStore) VectorSearch(_ context.Context, embedding []float64, sourceIDs []string, limit int) ([]ScoredChunk, error) {
	if limit <= 0 || len(sourceIDs) == 0 {
		return nil, nil
	}
	allowed := sourceSet(sourceIDs)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScoredChunk, 0, limit)
	for _, c := range s.chunks {
		if !allowed[c.SourceID] {
			continue
		}
		score, ok := cosine(embedding, c.Embedding)
		if !ok {
			// Malformed or all-zero embeddings stay eligible for keyword
			// search but are excluded from semantic scoring.
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Score: score})
	}
	sortScored(out)
	return truncate(out, limit), nil
}

func (s *MemoryStore) KeywordSearch(_ context.Context, terms []string, sourceIDs []string, limit int) ([]ScoredChunk, error) {
	if limit <= 0 || len(sourceIDs) == 0 || len(terms) == 0 {
		return nil, nil
	}
	allowed := sourceSet(sourceIDs)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScoredChunk, 0, limit)
	for _, c := range s.chunks {
		if !allowed[c.SourceID] {
			continue
		}
		if score := termFrequency(c.Content, terms); score > 0 {
			out = append(out, ScoredChunk{Chunk: c, Score: score})
		}
	}
	sortScored(out)
	return truncate(out, limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func sourceSet(sourceIDs []string) map[string]bool {
	set := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		set[id] = true
	}
	return set
}

// cosine reports the cosine similarity of two vectors, or false when either
// vector is empty, mismatched in length, or all-zero.
func cosine(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

// termFrequency scores content by how often the query terms occur, scaled
// by content length so short on-topic chunks outrank long rambling ones.
func termFrequency(content string, terms []string) float64 {
	tokens := Tokenize(content)
	if len(tokens) == 0 {
		return 0
	}
	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	var hits int
	for _, term := range terms {
		hits += counts[strings.ToLower(term)]
	}
	return float64(hits) / float64(len(tokens))
}

func sortScored(chunks []ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].SourceID != chunks[j].SourceID {
			return chunks[i].SourceID < chunks[j].SourceID
		}
		return chunks[i].Ordinal < chunks[j].Ordinal
	})
}

func truncate(chunks []ScoredChunk, limit int) []ScoredChunk {
	if len(chunks) > limit {
		return chunks[:limit]
	}
	return chunks
}
