package keyword

import (
	"context"

	"github.com/Aman-CERP/kbcontext/internal/corpus"
)

// Scan walks the corpus in id order and keeps the first k chunks that share
// at least one word with the query. Results are in corpus order, not ranked.
// It holds no state beyond the store.
type Scan struct {
	store *corpus.Store
}

// NewScan returns a Scan over store.
func NewScan(store *corpus.Store) *Scan {
	return &Scan{store: store}
}

// Mode implements Searcher.
func (s *Scan) Mode() string { return "scan" }

// Search implements Searcher.
func (s *Scan) Search(ctx context.Context, query string, k int) (Result, error) {
	if err := validate(s.store, k); err != nil {
		return Result{}, err
	}

	words := Tokenize(query)
	var matches []Match
	for id := 0; id < s.store.Size() && len(matches) < k && len(words) > 0; id++ {
		if id%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		c, _ := s.store.Get(id)
		if overlap := countOverlap(words, c.Text); overlap > 0 {
			matches = append(matches, Match{ID: id, Overlap: overlap})
		}
	}

	if len(matches) == 0 {
		return firstK(s.store, k), nil
	}
	return Result{Matches: matches}, nil
}

func countOverlap(words map[string]struct{}, text string) int {
	overlap := 0
	for w := range Tokenize(text) {
		if _, ok := words[w]; ok {
			overlap++
		}
	}
	return overlap
}

var _ Searcher = (*Scan)(nil)
