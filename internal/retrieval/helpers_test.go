package retrieval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbcontext/internal/corpus"
	"github.com/Aman-CERP/kbcontext/internal/kb"
	"github.com/Aman-CERP/kbcontext/internal/vector"
)

// fixedEmbedder returns vec, or err when set.
type fixedEmbedder struct {
	vec   []float32
	err   error
	calls atomic.Int64
}

func (f *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fixedEmbedder) Dimensions() int   { return len(f.vec) }
func (f *fixedEmbedder) ModelName() string { return "fixed" }
func (f *fixedEmbedder) Close() error      { return nil }

// blockingEmbedder waits for its context to end.
type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingEmbedder) Dimensions() int   { return 3 }
func (blockingEmbedder) ModelName() string { return "blocking" }
func (blockingEmbedder) Close() error      { return nil }

// recorder is an Observer.
type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) ObserveRetrieval(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func mlStore() *corpus.Store {
	return corpus.New([]corpus.Chunk{
		{Text: "Linear regression models relationships", Course: "ML101", TopicTags: []string{"regression", "statistics"}},
		{Text: "Neural networks use backpropagation", Course: "ML101", TopicTags: []string{"deep learning"}},
	})
}

func flatIndex(t testing.TB, rows [][]float32) vector.Index {
	t.Helper()
	m, err := vector.NewMatrix(rows)
	require.NoError(t, err)
	return vector.NewFlat(m)
}

// mlSnapshot is the ML corpus with one-hot embeddings.
func mlSnapshot(t testing.TB) *kb.Snapshot {
	return kb.NewSnapshot(mlStore(), flatIndex(t, [][]float32{{1, 0, 0}, {0, 1, 0}}), nil)
}
