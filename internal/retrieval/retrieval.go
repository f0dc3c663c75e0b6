// Package retrieval provides keyword-based knowledge lookup for pipeline
// stages. It ranks stored knowledge entries against a query and returns the
// top matches as context items.
package retrieval

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/internal/state"
)

// maxResults is the number of context items handed to agents per query.
const maxResults = 5

// Store is the slice of the knowledge base the retriever needs.
// Implemented by *state.DB.
type Store interface {
	SearchKnowledge(keywords []string) ([]state.KnowledgeEntry, error)
}

// Retriever queries and ranks knowledge entries for relevance to a goal or
// task description.
type Retriever struct {
	store Store
}

// New creates a Retriever backed by the given store.
func New(store Store) *Retriever {
	return &Retriever{store: store}
}

var _ pipeline.ContextSource = (*Retriever)(nil)

// Lookup extracts keywords from the query, fetches candidate entries, ranks
// them by keyword overlap and recency, and returns the top matches.
// A nil store yields no results rather than an error.
func (r *Retriever) Lookup(ctx context.Context, query string) ([]pipeline.ContextItem, error) {
	if r.store == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	entries, err := r.store.SearchKnowledge(keywords)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	scored := make([]pipeline.ContextItem, 0, len(entries))
	for _, e := range entries {
		score := calculateScore(e, keywords, now)
		if score <= 0 {
			continue
		}
		scored = append(scored, pipeline.ContextItem{
			Topic:   e.Topic,
			Content: e.Content,
			Score:   score,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored, nil
}

// stopWords are filtered out of queries before matching.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "will": true,
	"with": true, "not": true, "but": true, "can": true, "do": true,
	"should": true, "would": true, "could": true, "may": true,
	"must": true, "need": true, "if": true, "then": true, "else": true,
	"when": true, "where": true, "which": true, "how": true, "why": true,
	"all": true, "any": true, "some": true, "such": true, "no": true,
	"so": true, "than": true, "too": true, "very": true, "just": true,
	"also": true, "into": true, "using": true, "use": true, "add": true,
	"make": true, "new": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)

// extractKeywords returns unique, lowercase keywords from text with stop
// words and short words removed.
func extractKeywords(text string) []string {
	if text == "" {
		return nil
	}

	words := wordPattern.FindAllString(text, -1)
	seen := make(map[string]bool)
	keywords := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) < 3 || stopWords[lower] {
			continue
		}
		if !seen[lower] {
			seen[lower] = true
			keywords = append(keywords, lower)
		}
	}
	return keywords
}

// calculateScore combines keyword overlap with a recency factor.
// Overlap is the fraction of query keywords present in the entry's keyword
// list; recency decays with a 30-day half-life so stale knowledge is
// downranked but never eliminated.
func calculateScore(e state.KnowledgeEntry, queryKeywords []string, now time.Time) float64 {
	entryKeywords := make(map[string]bool, len(e.Keywords))
	for _, k := range e.Keywords {
		entryKeywords[strings.ToLower(k)] = true
	}

	matched := 0
	for _, k := range queryKeywords {
		if entryKeywords[k] {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	overlap := float64(matched) / float64(len(queryKeywords))

	recency := 1.0
	if !e.CreatedAt.IsZero() {
		days := math.Max(0, now.Sub(e.CreatedAt).Hours()/24)
		recency = 1.0 / (1.0 + days/30.0)
	}

	return overlap * (0.5 + 0.5*recency)
}
