package keyword

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/Aman-CERP/kbcontext/internal/corpus"
)

// bm25Doc is the document shape indexed for each chunk.
type bm25Doc struct {
	Text   string `json:"text"`
	Course string `json:"course"`
	Topics string `json:"topics"`
}

// BM25 ranks chunks with bleve's BM25-style scoring over text, topics and
// course. When nothing matches it returns the first k chunks, like Scan.
type BM25 struct {
	store *corpus.Store

	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// NewBM25 indexes every chunk of store in memory.
func NewBM25(ctx context.Context, store *corpus.Store) (*BM25, error) {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = standard.Name

	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}

	batch := idx.NewBatch()
	for id := 0; id < store.Size(); id++ {
		c, _ := store.Get(id)
		doc := bm25Doc{Text: c.Text, Course: c.Course, Topics: strings.Join(c.TopicTags, " ")}
		if err := batch.Index(docID(id), doc); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index chunk %d: %w", id, err)
		}
		if batch.Size() >= 1000 {
			if err := flush(ctx, idx, batch); err != nil {
				return nil, err
			}
			batch = idx.NewBatch()
		}
	}
	if err := flush(ctx, idx, batch); err != nil {
		return nil, err
	}

	return &BM25{store: store, index: idx}, nil
}

func flush(ctx context.Context, idx bleve.Index, batch *bleve.Batch) error {
	if err := ctx.Err(); err != nil {
		_ = idx.Close()
		return err
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// docID zero-pads ids so bleve's lexical _id sort matches numeric order.
func docID(id int) string {
	return fmt.Sprintf("%09d", id)
}

// Mode implements Searcher.
func (b *BM25) Mode() string { return "bm25" }

// Search implements Searcher.
func (b *BM25) Search(ctx context.Context, query string, k int) (Result, error) {
	if err := validate(b.store, k); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(query) == "" {
		return firstK(b.store, k), nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return Result{}, fmt.Errorf("keyword index is closed")
	}

	text := bleve.NewMatchQuery(query)
	text.SetField("text")
	topics := bleve.NewMatchQuery(query)
	topics.SetField("topics")
	course := bleve.NewMatchQuery(query)
	course.SetField("course")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(text, topics, course))
	req.Size = k
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("keyword search failed: %w", err)
	}

	matches := make([]Match, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		matches = append(matches, Match{ID: id, Score: hit.Score})
	}

	if len(matches) == 0 {
		return firstK(b.store, k), nil
	}
	return Result{Matches: matches}, nil
}

// Close releases the bleve index.
func (b *BM25) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ Searcher = (*BM25)(nil)
