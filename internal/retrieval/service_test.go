package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/openscreen/triage/internal/knowledge"
	"github.com/openscreen/triage/internal/observability"
)

type fakeStore struct {
	semantic []knowledge.ScoredChunk
	keyword  []knowledge.ScoredChunk
	semErr   error
	kwErr    error

	lastVectorLimit  int
	lastKeywordLimit int
}

func (f *fakeStore) VectorSearch(_ context.Context, _ []float64, _ []string, limit int) ([]knowledge.ScoredChunk, error) {
	f.lastVectorLimit = limit
	return f.semantic, f.semErr
}

func (f *fakeStore) KeywordSearch(_ context.Context, _ []string, _ []string, limit int) ([]knowledge.ScoredChunk, error) {
	f.lastKeywordLimit = limit
	return f.keyword, f.kwErr
}

func (f *fakeStore) Close() error { return nil }

func chunk(id, source, content string) knowledge.Chunk {
	return knowledge.Chunk{ID: id, SourceID: source, Content: content}
}

func newTestService(store knowledge.Store) *Service {
	return NewService(store, knowledge.NewHashingEmbedder(16), observability.NewNopLogger())
}

func TestMergeCombinedScore(t *testing.T) {
	store := &fakeStore{
		semantic: []knowledge.ScoredChunk{{Chunk: chunk("c1", "s1", "shared passage"), Score: 0.9}},
		keyword:  []knowledge.ScoredChunk{{Chunk: chunk("c1", "s1", "shared passage"), Score: 0.6}},
	}
	svc := newTestService(store)

	got, err := svc.Retrieve(context.Background(), "query", []string{"s1"}, 5, 0.7)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	want := 0.7*0.9 + 0.3*0.6
	if math.Abs(got[0].Score-want) > 1e-9 {
		t.Fatalf("combined score = %v, want %v", got[0].Score, want)
	}
}

func TestMergeDefaultsMissingScoresToZero(t *testing.T) {
	store := &fakeStore{
		semantic: []knowledge.ScoredChunk{{Chunk: chunk("c1", "s1", "semantic only"), Score: 0.8}},
		keyword:  []knowledge.ScoredChunk{{Chunk: chunk("c2", "s1", "keyword only"), Score: 0.8}},
	}
	svc := newTestService(store)

	got, err := svc.Retrieve(context.Background(), "query", []string{"s1"}, 5, 0.7)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	// semantic-only: 0.7*0.8 = 0.56; keyword-only: 0.3*0.8 = 0.24
	if got[0].Content != "semantic only" || got[1].Content != "keyword only" {
		t.Fatalf("unexpected order: %q then %q", got[0].Content, got[1].Content)
	}
	if math.Abs(got[1].Score-0.24) > 1e-9 {
		t.Fatalf("keyword-only score = %v, want 0.24", got[1].Score)
	}
}

func TestRetrieveOverFetchesForHeadroom(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	if _, err := svc.Retrieve(context.Background(), "query", []string{"s1"}, 4, 0.5); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if store.lastVectorLimit != 8 || store.lastKeywordLimit != 8 {
		t.Fatalf("sub-query limits = %d/%d, want 8/8", store.lastVectorLimit, store.lastKeywordLimit)
	}
}

func TestRetrieveEmptyCandidateSet(t *testing.T) {
	svc := newTestService(&fakeStore{})
	got, err := svc.Retrieve(context.Background(), "query", nil, 5, 0.7)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty candidate set should yield no results")
	}
}

func TestRetrieveTruncatesToLimit(t *testing.T) {
	store := &fakeStore{
		keyword: []knowledge.ScoredChunk{
			{Chunk: chunk("c1", "s1", "alpha"), Score: 0.9},
			{Chunk: chunk("c2", "s1", "bravo"), Score: 0.8},
			{Chunk: chunk("c3", "s1", "charlie"), Score: 0.7},
		},
	}
	svc := newTestService(store)

	got, err := svc.Retrieve(context.Background(), "query", []string{"s1"}, 2, 0.0)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "alpha" {
		t.Fatalf("truncation wrong: %+v", got)
	}
}

func TestRetrievePropagatesStoreError(t *testing.T) {
	store := &fakeStore{kwErr: errors.New("store down")}
	svc := newTestService(store)
	if _, err := svc.Retrieve(context.Background(), "query", []string{"s1"}, 2, 0.5); err == nil {
		t.Fatalf("expected keyword search error to propagate")
	}
}
