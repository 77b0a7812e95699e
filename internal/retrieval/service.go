package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/openscreen/triage/internal/knowledge"
	"github.com/openscreen/triage/internal/observability"
)

// fingerprintLen is how much leading content identifies a chunk across the
// two sub-query result sets.
const fingerprintLen = 64

// Result is one grounded passage with its combined relevance score.
type Result struct {
	ChunkID       string            `json:"chunk_id"`
	SourceID      string            `json:"source_id"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Score         float64           `json:"score"`
	SemanticScore float64           `json:"semantic_score"`
	KeywordScore  float64           `json:"keyword_score"`
}

// Service ranks knowledge chunks for a query by combining vector similarity
// with keyword relevance. It is read-only and safe for concurrent use.
type Service struct {
	store    knowledge.Store
	embedder knowledge.Embedder
	log      *observability.Logger
}

func NewService(store knowledge.Store, embedder knowledge.Embedder, log *observability.Logger) *Service {
	return &Service{store: store, embedder: embedder, log: log}
}

// Retrieve runs both sub-queries over chunks from sourceIDs and merges them:
// combined = semanticWeight*semantic + (1-semanticWeight)*keyword, keyed by
// content fingerprint, sorted descending, truncated to limit. The caller
// owns the weight; no default is applied here.
func (s *Service) Retrieve(ctx context.Context, query string, sourceIDs []string, limit int, semanticWeight float64) ([]Result, error) {
	if limit <= 0 || len(sourceIDs) == 0 {
		return nil, nil
	}

	// Each sub-query over-fetches to leave reranking headroom after merge.
	headroom := limit * 2

	var semantic []knowledge.ScoredChunk
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.log.Warn("query embedding failed, keyword-only retrieval", "error", err)
	} else {
		semantic, err = s.store.VectorSearch(ctx, embedding, sourceIDs, headroom)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
	}

	keyword, err := s.store.KeywordSearch(ctx, knowledge.Tokenize(query), sourceIDs, headroom)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	merged := merge(semantic, keyword, semanticWeight)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func merge(semantic, keyword []knowledge.ScoredChunk, semanticWeight float64) []Result {
	byPrint := make(map[string]*Result)
	order := make([]string, 0, len(semantic)+len(keyword))

	upsert := func(c knowledge.ScoredChunk) *Result {
		print := fingerprint(c.Content)
		r, ok := byPrint[print]
		if !ok {
			r = &Result{ChunkID: c.ID, SourceID: c.SourceID, Content: c.Content, Metadata: c.Metadata}
			byPrint[print] = r
			order = append(order, print)
		}
		return r
	}

	for _, c := range semantic {
		upsert(c).SemanticScore = c.Score
	}
	for _, c := range keyword {
		upsert(c).KeywordScore = c.Score
	}

	out := make([]Result, 0, len(order))
	for _, print := range order {
		r := byPrint[print]
		r.Score = semanticWeight*r.SemanticScore + (1-semanticWeight)*r.KeywordScore
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return fingerprint(out[i].Content) < fingerprint(out[j].Content)
	})
	return out
}

func fingerprint(content string) string {
	if len(content) > fingerprintLen {
		return content[:fingerprintLen]
	}
	return content
}
