// Package retrieval maps a query to the most relevant knowledge base chunks
// and renders them as a prompt context block.
//
// A Service holds the active kb.Snapshot behind an atomic pointer. Each
// request pins one snapshot for its whole run, so a concurrent Swap never
// pairs a corpus with another snapshot's matrix. The vector path needs a
// query embedding; any embedding failure, timeout or degenerate vector
// routes the request to the snapshot's keyword searcher instead.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/kbcontext/internal/corpus"
	"github.com/Aman-CERP/kbcontext/internal/embed"
	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
	"github.com/Aman-CERP/kbcontext/internal/kb"
	"github.com/Aman-CERP/kbcontext/internal/keyword"
	"github.com/Aman-CERP/kbcontext/internal/vector"
)

// Defaults.
const (
	DefaultK              = 8
	DefaultMinQueryLength = 10
	DefaultEmbedTimeout   = 10 * time.Second
	DefaultScoreTolerance = 1e-6
)

// Observer is told about every completed retrieval.
type Observer interface {
	ObserveRetrieval(r Result)
}

// Option configures a Service.
type Option func(*Service)

// WithEmbedTimeout bounds each query embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.embedTimeout = d
		}
	}
}

// WithMinQueryLength sets the shortest accepted query, in characters after trimming.
func WithMinQueryLength(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.minQueryLength = n
		}
	}
}

// WithScoreTolerance sets the allowed gap between ranking and displayed scores.
func WithScoreTolerance(tol float64) Option {
	return func(s *Service) {
		if tol > 0 {
			s.scoreTolerance = tol
		}
	}
}

// WithObserver registers o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// Service answers retrieval requests against the active snapshot.
type Service struct {
	snap     atomic.Pointer[kb.Snapshot]
	embedder embed.Embedder

	embedTimeout   time.Duration
	minQueryLength int
	scoreTolerance float64
	observers      []Observer
}

// New creates a service over snap. embedder may be nil, which disables the
// vector path.
func New(snap *kb.Snapshot, embedder embed.Embedder, opts ...Option) *Service {
	if snap == nil {
		snap = kb.NewSnapshot(nil, nil, nil)
	}
	s := &Service{
		embedder:       embedder,
		embedTimeout:   DefaultEmbedTimeout,
		minQueryLength: DefaultMinQueryLength,
		scoreTolerance: DefaultScoreTolerance,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(snap)
	return s
}

// Current returns the active snapshot.
func (s *Service) Current() *kb.Snapshot {
	return s.snap.Load()
}

// Swap installs next if its vector index covers its corpus row for row.
// A rejected snapshot leaves the current one active. The replaced snapshot
// is released once in-flight requests finish with it.
func (s *Service) Swap(next *kb.Snapshot) error {
	if next == nil {
		return kberrors.New(kberrors.ErrCodeSnapshotRejected, "cannot install a nil snapshot", nil)
	}
	if err := next.Aligned(); err != nil {
		return kberrors.New(kberrors.ErrCodeSnapshotRejected, "snapshot rejected: "+err.Error(), err).
			WithDetail("chunks", fmt.Sprint(next.Corpus.Size())).
			WithDetail("vectors", fmt.Sprint(next.Vectors.Len()))
	}

	prev := s.snap.Swap(next)
	if prev != nil && prev != next {
		prev.Retire()
	}
	return nil
}

// Close releases the active snapshot.
func (s *Service) Close() error {
	return s.snap.Load().Close()
}

// acquire pins the active snapshot. It returns nil only when the active
// snapshot was closed and not replaced.
func (s *Service) acquire() *kb.Snapshot {
	for {
		snap := s.snap.Load()
		if snap.Acquire() {
			return snap
		}
		if s.snap.Load() == snap {
			return nil
		}
	}
}

// Retrieve returns the top k chunks for query as a formatted context block.
// It never fails: problems are reported inside the returned text.
func (s *Service) Retrieve(ctx context.Context, query string, k int) string {
	return Format(s.Search(ctx, query, k, false))
}

// RetrieveKeywordOnly is Retrieve without the vector path.
func (s *Service) RetrieveKeywordOnly(ctx context.Context, query string, k int) string {
	return Format(s.Search(ctx, query, k, true))
}

// Search is the structured form of Retrieve.
func (s *Service) Search(ctx context.Context, query string, k int, keywordOnly bool) Result {
	start := time.Now()
	res := Result{Query: query, K: k}

	snap := s.acquire()
	if snap != nil {
		defer snap.Release()
		res.Generation = snap.Generation
	}

	switch {
	case snap == nil || snap.Corpus.Size() == 0:
		res.Status = StatusNoKnowledgeBase
	case len([]rune(strings.TrimSpace(query))) < s.minQueryLength:
		res.Status = StatusQueryTooShort
	case k < 1:
		res.Status = StatusInvalidK
	default:
		var strategy Strategy = KeywordStrategy{}
		if !keywordOnly {
			strategy = s.selectStrategy(ctx, snap, query)
		}
		s.run(ctx, snap, strategy, query, k, &res)
	}

	res.Duration = time.Since(start)
	s.notify(res)
	return res
}

// selectStrategy embeds the query when the vector path is usable.
func (s *Service) selectStrategy(ctx context.Context, snap *kb.Snapshot, query string) Strategy {
	if vector.IsEmpty(snap.Vectors) {
		reason := snap.Reason
		if reason == "" {
			reason = "vector index is empty"
		}
		return KeywordStrategy{Reason: reason}
	}
	if s.embedder == nil {
		return KeywordStrategy{Reason: "no query embedder configured"}
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		slog.Warn("query_embedding_failed", kberrors.LogArgs(err)...)
		return KeywordStrategy{Reason: describeEmbedError(err)}
	}
	if len(vec) == 0 {
		return KeywordStrategy{Reason: "embedding provider returned an empty vector"}
	}
	if dims := snap.Vectors.Dimensions(); len(vec) != dims {
		slog.Warn("query_dimension_mismatch",
			slog.Int("query_dimensions", len(vec)),
			slog.Int("index_dimensions", dims))
		return KeywordStrategy{Reason: fmt.Sprintf("query vector has %d dimensions, index has %d", len(vec), dims)}
	}
	return VectorStrategy{Query: vec}
}

func (s *Service) embed(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && kberrors.GetCode(err) != kberrors.ErrCodeEmbedTimeout {
			return nil, kberrors.New(kberrors.ErrCodeEmbedTimeout, "query embedding timed out", err).
				WithDetail("timeout", s.embedTimeout.String())
		}
		return nil, err
	}
	return vec, nil
}

func describeEmbedError(err error) string {
	switch kberrors.GetCode(err) {
	case kberrors.ErrCodeEmbedTimeout:
		return "embedding provider timed out"
	case kberrors.ErrCodeEmbedRateLimited:
		return "embedding provider is rate limited"
	case kberrors.ErrCodeEmbedUnavailable:
		return "embedding provider unavailable"
	default:
		return "embedding failed"
	}
}

// run executes strategy, falling back from vector to keyword when the
// ranking comes back empty.
func (s *Service) run(ctx context.Context, snap *kb.Snapshot, strategy Strategy, query string, k int, res *Result) {
	if vs, ok := strategy.(VectorStrategy); ok {
		ranked := snap.Vectors.TopK(vs.Query, k)
		if len(ranked) > 0 {
			s.fillVector(snap, vs.Query, ranked, res)
			return
		}
		strategy = KeywordStrategy{Reason: "query vector has no similarity signal"}
	}

	ks := strategy.(KeywordStrategy)
	res.Strategy = StrategyKeyword
	res.FallbackReason = ks.Reason
	res.KeywordMode = snap.Keyword.Mode()

	found, err := snap.Keyword.Search(ctx, query, k)
	if err != nil {
		if errors.Is(err, keyword.ErrNoKnowledgeBase) {
			res.Status = StatusNoKnowledgeBase
			return
		}
		slog.Warn("keyword_search_failed", kberrors.LogArgs(err)...)
		res.Status = StatusNoResults
		return
	}

	res.Status = StatusOK
	res.Unfiltered = found.Unfiltered
	for i, m := range found.Matches {
		c, ok := snap.Corpus.Get(m.ID)
		if !ok {
			continue
		}
		it := itemFor(c, i+1)
		it.Overlap = m.Overlap
		it.BM25 = m.Score
		res.Items = append(res.Items, it)
	}
}

// fillVector turns ranked rows into items, recomputing each score from the
// stored vectors.
func (s *Service) fillVector(snap *kb.Snapshot, query []float32, ranked []vector.Result, res *Result) {
	res.Status = StatusOK
	res.Strategy = StrategyVector
	for i, r := range ranked {
		c, ok := snap.Corpus.Get(r.ID)
		if !ok {
			// unreachable for an aligned snapshot
			slog.Error("ranked_row_out_of_range", slog.Int("id", r.ID), slog.Int("chunks", snap.Corpus.Size()))
			continue
		}

		it := itemFor(c, len(res.Items)+1)
		it.RankScore = r.Score
		it.Score = r.Score

		score, ok := snap.Vectors.Similarity(r.ID, query)
		if !ok {
			slog.Warn("score_recompute_failed", slog.Int("id", r.ID), slog.Int("rank", i+1))
		} else {
			it.Score = score
			if drift := math.Abs(score - r.Score); drift > res.ScoreDrift {
				res.ScoreDrift = drift
			}
		}
		res.Items = append(res.Items, it)
	}

	if res.ScoreDrift > s.scoreTolerance {
		err := kberrors.New(kberrors.ErrCodeScoreDrift, "recomputed scores disagree with ranking scores", nil).
			WithDetail("drift", fmt.Sprintf("%.3g", res.ScoreDrift)).
			WithDetail("backend", snap.Vectors.Backend())
		slog.Warn("score_drift", kberrors.LogArgs(err)...)
	}
}

func itemFor(c corpus.Chunk, rank int) Item {
	topics := c.TopicTags
	if topics == nil {
		topics = []string{}
	}
	return Item{Rank: rank, ChunkID: c.ID, Course: c.Course, Topics: topics, Text: c.Text}
}

func (s *Service) notify(res Result) {
	for _, o := range s.observers {
		o.ObserveRetrieval(res)
	}
	slog.Debug("retrieval",
		slog.String("status", string(res.Status)),
		slog.String("strategy", res.Strategy),
		slog.String("fallback_reason", res.FallbackReason),
		slog.Int("k", res.K),
		slog.Int("items", len(res.Items)),
		slog.Duration("duration", res.Duration))
}
