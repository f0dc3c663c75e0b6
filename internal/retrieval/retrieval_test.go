package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maestro-ai/maestro/internal/state"
)

type fakeStore struct {
	entries []state.KnowledgeEntry
	err     error
	queried [][]string
}

func (f *fakeStore) SearchKnowledge(keywords []string) ([]state.KnowledgeEntry, error) {
	f.queried = append(f.queried, keywords)
	return f.entries, f.err
}

func TestLookup_NilStore(t *testing.T) {
	r := New(nil)
	items, err := r.Lookup(context.Background(), "anything")
	if err != nil || items != nil {
		t.Errorf("got %v, %v; want nil, nil", items, err)
	}
}

func TestLookup_RanksByOverlap(t *testing.T) {
	now := time.Now()
	store := &fakeStore{entries: []state.KnowledgeEntry{
		{Topic: "partial", Content: "c1", Keywords: []string{"cache"}, CreatedAt: now},
		{Topic: "full", Content: "c2", Keywords: []string{"cache", "invalidation", "strategy"}, CreatedAt: now},
		{Topic: "unrelated", Content: "c3", Keywords: []string{"auth"}, CreatedAt: now},
	}}

	r := New(store)
	items, err := r.Lookup(context.Background(), "cache invalidation strategy")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (unrelated filtered out): %+v", len(items), items)
	}
	if items[0].Topic != "full" {
		t.Errorf("best match = %s, want full", items[0].Topic)
	}
	if items[0].Score <= items[1].Score {
		t.Errorf("scores not descending: %v then %v", items[0].Score, items[1].Score)
	}
}

func TestLookup_RecencyBreaksTies(t *testing.T) {
	store := &fakeStore{entries: []state.KnowledgeEntry{
		{Topic: "stale", Keywords: []string{"cache"}, CreatedAt: time.Now().AddDate(0, -6, 0)},
		{Topic: "fresh", Keywords: []string{"cache"}, CreatedAt: time.Now()},
	}}

	r := New(store)
	items, err := r.Lookup(context.Background(), "cache layer")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(items) != 2 || items[0].Topic != "fresh" {
		t.Errorf("got %+v, want fresh ranked first", items)
	}
}

func TestLookup_StoreError(t *testing.T) {
	r := New(&fakeStore{err: errors.New("db locked")})
	if _, err := r.Lookup(context.Background(), "cache layer"); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("Add a caching layer to the API, and the API should invalidate on write")
	want := map[string]bool{"caching": true, "layer": true, "api": true, "invalidate": true, "write": true}

	if len(got) != len(want) {
		t.Fatalf("keywords = %v, want %d unique entries", got, len(want))
	}
	for _, k := range got {
		if !want[k] {
			t.Errorf("unexpected keyword %q in %v", k, got)
		}
	}
}

func TestExtractKeywords_Empty(t *testing.T) {
	if got := extractKeywords(""); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if got := extractKeywords("to the and of"); len(got) != 0 {
		t.Errorf("stop words only: got %v", got)
	}
}
