package retrieval

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbcontext/internal/corpus"
	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
	"github.com/Aman-CERP/kbcontext/internal/kb"
	"github.com/Aman-CERP/kbcontext/internal/kb/kbtest"
	"github.com/Aman-CERP/kbcontext/internal/vector"
)

func TestRetrieve_KeywordFallbackWithoutEmbeddings(t *testing.T) {
	// Given: the ML corpus with no embedding matrix
	svc := New(kb.NewSnapshot(mlStore(), nil, nil), nil)

	// When: retrieving one chunk about backpropagation
	res := svc.Search(context.Background(), "how does backpropagation work", 1, false)

	// Then: exactly the second chunk comes back through keyword search
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, StrategyKeyword, res.Strategy)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 1, res.Items[0].ChunkID)
	assert.Equal(t, "Neural networks use backpropagation", res.Items[0].Text)

	out := svc.Retrieve(context.Background(), "how does backpropagation work", 1)
	assert.Contains(t, out, "Neural networks use backpropagation")
	assert.NotContains(t, out, "Linear regression")
}

func TestRetrieve_VectorFormat(t *testing.T) {
	svc := New(mlSnapshot(t), &fixedEmbedder{vec: []float32{0, 1, 0}})

	out := svc.Retrieve(context.Background(), "how does backpropagation work", 2)

	want := "### Relevant Content 1 (Score: 1.000)\n" +
		"**Course**: ML101\n" +
		"**Topics**: deep learning\n" +
		"**Content**: Neural networks use backpropagation\n" +
		"\n" +
		"### Relevant Content 2 (Score: 0.000)\n" +
		"**Course**: ML101\n" +
		"**Topics**: regression, statistics\n" +
		"**Content**: Linear regression models relationships\n"
	assert.Equal(t, want, out)
}

func TestRetrieve_KeywordFormatExplainsFallback(t *testing.T) {
	svc := New(kb.NewSnapshot(mlStore(), nil, nil), nil)

	out := svc.Retrieve(context.Background(), "how does backpropagation work", 1)

	want := "_Semantic search unavailable (no embedding matrix); showing keyword matches._\n" +
		"\n" +
		"### Content 1\n" +
		"**Course**: ML101\n" +
		"**Topics**: deep learning\n" +
		"**Content**: Neural networks use backpropagation\n"
	assert.Equal(t, want, out)
}

func TestRetrieveKeywordOnly_SkipsEmbedderAndNote(t *testing.T) {
	emb := &fixedEmbedder{vec: []float32{0, 1, 0}}
	svc := New(mlSnapshot(t), emb)

	out := svc.RetrieveKeywordOnly(context.Background(), "how does backpropagation work", 8)

	assert.True(t, strings.HasPrefix(out, "### Content 1\n"), out)
	assert.Zero(t, emb.calls.Load())
}

func TestRetrieve_QueryTooShort(t *testing.T) {
	emb := &fixedEmbedder{vec: []float32{0, 1, 0}}
	svc := New(mlSnapshot(t), emb)

	assert.Equal(t, MsgQueryTooShort, svc.Retrieve(context.Background(), "short", 3))
	assert.Equal(t, MsgQueryTooShort, svc.Retrieve(context.Background(), "   padded   ", 3))
	assert.Zero(t, emb.calls.Load())
}

func TestRetrieve_EmptyKnowledgeBase_IndependentOfK(t *testing.T) {
	svc := New(kb.NewSnapshot(corpus.Empty(), nil, nil), &fixedEmbedder{vec: []float32{1}})

	for _, k := range []int{-1, 0, 1, 8, 1000} {
		assert.Equal(t, MsgNoKnowledgeBase, svc.Retrieve(context.Background(), "anything at all goes here", k), "k=%d", k)
	}
	assert.Equal(t, MsgNoKnowledgeBase, svc.Retrieve(context.Background(), "x", 3))
	assert.Equal(t, MsgNoKnowledgeBase, svc.RetrieveKeywordOnly(context.Background(), "anything at all goes here", 3))
}

func TestRetrieve_InvalidK(t *testing.T) {
	svc := New(mlSnapshot(t), nil)

	assert.Equal(t, "Invalid result count 0: k must be at least 1.", svc.Retrieve(context.Background(), "how does backpropagation work", 0))
	assert.Equal(t, StatusInvalidK, svc.Search(context.Background(), "how does backpropagation work", -3, false).Status)
}

func TestRetrieve_KLargerThanCorpus(t *testing.T) {
	svc := New(mlSnapshot(t), &fixedEmbedder{vec: []float32{1, 1, 0}})

	res := svc.Search(context.Background(), "regression and networks", 50, false)

	assert.Equal(t, StrategyVector, res.Strategy)
	require.Len(t, res.Items, 2)
	// equal scores keep corpus order
	assert.Equal(t, 0, res.Items[0].ChunkID)
	assert.Equal(t, 1, res.Items[1].ChunkID)
}

func TestRetrieve_MisalignedMatrixRoutesToKeyword(t *testing.T) {
	rows := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	p := kbtest.Write(t, t.TempDir(), kbtest.MLRecords(), rows)
	loaded := kb.Initialize(context.Background(), kb.Options{ChunksPath: p.Chunks, EmbeddingsPath: p.Embeddings})
	require.Equal(t, kb.StateDegraded, loaded.State)

	emb := &fixedEmbedder{vec: []float32{0, 1, 0}}
	svc := New(loaded.Snapshot, emb)

	res := svc.Search(context.Background(), "how does backpropagation work", 1, false)

	assert.Equal(t, StrategyKeyword, res.Strategy)
	assert.Contains(t, res.FallbackReason, "3 rows but corpus has 2 chunks")
	assert.Equal(t, 1, res.Items[0].ChunkID)
	assert.Zero(t, emb.calls.Load())
}

func TestRetrieve_EmbedFailuresFallBack(t *testing.T) {
	cases := []struct {
		name     string
		embedder *fixedEmbedder
		reason   string
	}{
		{"provider error", &fixedEmbedder{err: kberrors.ProviderError("connection refused", nil)}, "embedding provider unavailable"},
		{"plain error", &fixedEmbedder{err: fmt.Errorf("boom")}, "embedding failed"},
		{"empty vector", &fixedEmbedder{vec: []float32{}}, "embedding provider returned an empty vector"},
		{"zero vector", &fixedEmbedder{vec: []float32{0, 0, 0}}, "query vector has no similarity signal"},
		{"dimension mismatch", &fixedEmbedder{vec: []float32{1, 0}}, "query vector has 2 dimensions, index has 3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(mlSnapshot(t), tc.embedder)

			res := svc.Search(context.Background(), "how does backpropagation work", 1, false)

			assert.Equal(t, StatusOK, res.Status)
			assert.Equal(t, StrategyKeyword, res.Strategy)
			assert.Equal(t, tc.reason, res.FallbackReason)
			require.Len(t, res.Items, 1)
			assert.Equal(t, 1, res.Items[0].ChunkID)
			for _, it := range res.Items {
				assert.False(t, math.IsNaN(it.Score))
			}
		})
	}
}

func TestRetrieve_EmbedTimeoutFallsBack(t *testing.T) {
	svc := New(mlSnapshot(t), blockingEmbedder{}, WithEmbedTimeout(20*time.Millisecond))

	start := time.Now()
	res := svc.Search(context.Background(), "how does backpropagation work", 1, false)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StrategyKeyword, res.Strategy)
	assert.Equal(t, "embedding provider timed out", res.FallbackReason)
	assert.Equal(t, 1, res.Items[0].ChunkID)
}

// wave builds a deterministic matrix with no duplicate rows.
func wave(rows, cols int, phase float64) [][]float32 {
	out := make([][]float32, rows)
	for i := range out {
		out[i] = make([]float32, cols)
		for j := range out[i] {
			out[i][j] = float32(math.Sin(float64(i*cols+j+1)*0.37 + phase))
		}
	}
	return out
}

func TestRetrieve_RecomputedScoresAgreeWithRanking(t *testing.T) {
	rows := wave(40, 16, 0)
	chunks := make([]corpus.Chunk, len(rows))
	for i := range chunks {
		chunks[i] = corpus.Chunk{Text: fmt.Sprintf("chunk number %d", i)}
	}
	store := corpus.New(chunks)
	query := wave(1, 16, 1.3)[0]

	m, err := vector.NewMatrix(rows)
	require.NoError(t, err)
	backends := map[string]vector.Index{
		"flat": vector.NewFlat(m),
		"hnsw": vector.NewHNSW(m, vector.DefaultHNSWConfig()),
	}

	for name, idx := range backends {
		t.Run(name, func(t *testing.T) {
			svc := New(kb.NewSnapshot(store, idx, nil), &fixedEmbedder{vec: query})

			res := svc.Search(context.Background(), "a sufficiently long query", 10, false)

			require.Equal(t, StrategyVector, res.Strategy)
			require.Len(t, res.Items, 10)
			assert.LessOrEqual(t, res.ScoreDrift, DefaultScoreTolerance)
			for i, it := range res.Items {
				assert.InDelta(t, it.RankScore, it.Score, DefaultScoreTolerance, "rank %d", it.Rank)
				assert.InDelta(t, vector.Cosine(rows[it.ChunkID], query), it.Score, DefaultScoreTolerance)
				if i > 0 {
					assert.LessOrEqual(t, it.RankScore, res.Items[i-1].RankScore)
				}
			}
		})
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	rows := wave(25, 8, 0)
	chunks := make([]corpus.Chunk, len(rows))
	for i := range chunks {
		chunks[i] = corpus.Chunk{Text: fmt.Sprintf("chunk %d", i)}
	}
	svc := New(kb.NewSnapshot(corpus.New(chunks), flatIndex(t, rows), nil), &fixedEmbedder{vec: wave(1, 8, 0.5)[0]})

	a := svc.Retrieve(context.Background(), "the same query twice", 5)
	b := svc.Retrieve(context.Background(), "the same query twice", 5)

	assert.Equal(t, a, b)
}

func TestSwap_RejectsMisalignedSnapshot(t *testing.T) {
	first := mlSnapshot(t)
	svc := New(first, &fixedEmbedder{vec: []float32{0, 1, 0}})

	bigger := corpus.New([]corpus.Chunk{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	bad := kb.NewSnapshot(bigger, flatIndex(t, [][]float32{{1, 0, 0}, {0, 1, 0}}), nil)

	err := svc.Swap(bad)

	assert.Equal(t, kberrors.ErrCodeSnapshotRejected, kberrors.GetCode(err))
	assert.Same(t, first, svc.Current())
	res := svc.Search(context.Background(), "how does backpropagation work", 1, false)
	assert.Equal(t, StrategyVector, res.Strategy)
	assert.Equal(t, 1, res.Items[0].ChunkID)

	assert.Error(t, svc.Swap(nil))
}

func TestSwap_InstallsAndRetiresPrevious(t *testing.T) {
	first := mlSnapshot(t)
	svc := New(first, nil)

	next := kb.NewSnapshot(corpus.New([]corpus.Chunk{{Text: "Gradient descent minimises loss", Course: "ML102"}}), nil, nil)
	next.Generation = 7
	require.NoError(t, svc.Swap(next))

	res := svc.Search(context.Background(), "what is gradient descent", 3, false)
	assert.Equal(t, uint64(7), res.Generation)
	assert.Equal(t, "ML102", res.Items[0].Course)
	assert.False(t, first.Acquire(), "replaced snapshot without readers is closed")
}

func TestRetrieve_ConcurrentWithSwaps(t *testing.T) {
	small := mlSnapshot(t)
	rows := wave(30, 3, 0)
	chunks := make([]corpus.Chunk, len(rows))
	for i := range chunks {
		chunks[i] = corpus.Chunk{Text: fmt.Sprintf("chunk %d", i)}
	}
	large := func() *kb.Snapshot { return kb.NewSnapshot(corpus.New(chunks), flatIndex(t, rows), nil) }

	svc := New(small, &fixedEmbedder{vec: []float32{0.2, 0.9, 0.1}})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				_ = svc.Swap(large())
			} else {
				_ = svc.Swap(mlSnapshot(t))
			}
		}
	}()

	var readers sync.WaitGroup
	for range 8 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for range 200 {
				res := svc.Search(context.Background(), "a sufficiently long query", 5, false)
				assert.Equal(t, StatusOK, res.Status)
				assert.Equal(t, StrategyVector, res.Strategy)
				assert.NotEmpty(t, res.Items)
			}
		}()
	}
	readers.Wait()
	close(stop)
	wg.Wait()
}

func TestRetrieve_NotifiesObservers(t *testing.T) {
	rec := &recorder{}
	svc := New(mlSnapshot(t), nil, WithObserver(rec))

	svc.Retrieve(context.Background(), "short", 1)
	svc.Retrieve(context.Background(), "how does backpropagation work", 1)

	require.Len(t, rec.results, 2)
	assert.Equal(t, StatusQueryTooShort, rec.results[0].Status)
	assert.Equal(t, StrategyKeyword, rec.results[1].Strategy)
	assert.Equal(t, "no query embedder configured", rec.results[1].FallbackReason)
}

func TestRetrieve_UnfilteredKeywordFallback(t *testing.T) {
	svc := New(kb.NewSnapshot(mlStore(), nil, nil), nil)

	res := svc.Search(context.Background(), "quantum chromodynamics", 1, true)

	assert.True(t, res.Unfiltered)
	assert.Equal(t, 0, res.Items[0].ChunkID)
	assert.Empty(t, res.FallbackReason)
}

func TestRetrieve_ClosedServiceReportsNoKnowledgeBase(t *testing.T) {
	svc := New(mlSnapshot(t), nil)
	require.NoError(t, svc.Close())

	assert.Equal(t, MsgNoKnowledgeBase, svc.Retrieve(context.Background(), "how does backpropagation work", 1))
}
