// Package keyword is the retrieval fallback used when no vector ranking is
// available. Scan implements the default word-overlap contract; BM25 is an
// opt-in ranked alternative backed by an in-memory bleve index.
package keyword

import (
	"context"
	"strings"

	"github.com/Aman-CERP/kbcontext/internal/corpus"
	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// ErrNoKnowledgeBase is returned when the corpus has no chunks. It is
// distinct from a search that simply matched nothing.
var ErrNoKnowledgeBase = kberrors.New(kberrors.ErrCodeKBNotFound, "no knowledge base available", nil)

// Match is one chunk selected by a keyword search.
type Match struct {
	ID int `json:"id"`
	// Overlap counts distinct query words found in the chunk (scan), or is
	// zero for unfiltered results.
	Overlap int `json:"overlap"`
	// Score is the BM25 score; zero for scan results.
	Score float64 `json:"score,omitempty"`
}

// Result is the outcome of a keyword search.
type Result struct {
	Matches []Match `json:"matches"`
	// Unfiltered is set when nothing matched and the first k chunks were
	// returned instead.
	Unfiltered bool `json:"unfiltered"`
}

// Searcher is a keyword fallback strategy.
type Searcher interface {
	Search(ctx context.Context, query string, k int) (Result, error)
	Mode() string
}

// Tokenize lower-cases text and splits it on whitespace into a word set.
func Tokenize(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func validate(store *corpus.Store, k int) error {
	if store.Size() == 0 {
		return ErrNoKnowledgeBase
	}
	if k < 1 {
		return kberrors.New(kberrors.ErrCodeInvalidK, "k must be at least 1", nil)
	}
	return nil
}

// firstK returns the first k chunk ids unfiltered.
func firstK(store *corpus.Store, k int) Result {
	n := min(k, store.Size())
	matches := make([]Match, n)
	for i := range matches {
		matches[i] = Match{ID: i}
	}
	return Result{Matches: matches, Unfiltered: true}
}
