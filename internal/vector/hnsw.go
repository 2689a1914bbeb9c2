package vector

import (
	"log/slog"

	"github.com/coder/hnsw"
)

// HNSWConfig tunes the graph.
type HNSWConfig struct {
	// M is the maximum neighbors per node.
	M int
	// EfSearch is the candidate list size during search.
	EfSearch int
}

// DefaultHNSWConfig returns the coder/hnsw recommended parameters with a
// wider search list.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfSearch: 64}
}

// HNSW is an approximate index. Candidates from the graph are rescored
// exactly, so scores match Flat; only recall is approximate. When the graph
// returns fewer than min(k, rows) candidates the query is answered by an
// exact scan instead.
type HNSW struct {
	exact *Flat
	graph *hnsw.Graph[int]
	// zeroRows counts rows left out of the graph. They score 0 against any
	// query, so they outrank negative candidates.
	zeroRows int
}

// NewHNSW builds the graph over m. Zero-norm rows are left out of the graph
// since cosine distance is undefined for them.
func NewHNSW(m *Matrix, cfg HNSWConfig) *HNSW {
	if cfg.M < 2 {
		cfg.M = DefaultHNSWConfig().M
	}
	if cfg.EfSearch < 1 {
		cfg.EfSearch = DefaultHNSWConfig().EfSearch
	}

	graph := hnsw.NewGraph[int]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	exact := NewFlat(m)
	skipped := 0
	for i := 0; i < m.Rows(); i++ {
		row := m.Row(i)
		n := Norm(row)
		if n == 0 {
			skipped++
			continue
		}
		graph.Add(hnsw.MakeNode(i, normalized(row, n)))
	}
	if skipped > 0 {
		slog.Debug("hnsw_zero_rows_skipped", slog.Int("rows", skipped))
	}

	return &HNSW{exact: exact, graph: graph, zeroRows: skipped}
}

func normalized(v []float32, norm float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// TopK implements Index.
func (h *HNSW) TopK(query []float32, k int) []Result {
	if k < 1 || h.exact.Len() == 0 {
		return nil
	}
	qn, ok := queryNorm(query, h.exact.Dimensions())
	if !ok {
		return nil
	}

	want := min(k, h.exact.Len())
	if h.graph.Len() < want {
		return h.exact.TopK(query, k)
	}

	nodes := h.graph.Search(normalized(query, qn), want)
	if len(nodes) < want {
		slog.Debug("hnsw_short_result",
			slog.Int("want", want),
			slog.Int("got", len(nodes)))
		return h.exact.TopK(query, k)
	}

	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		results = append(results, Result{
			ID:    node.Key,
			Score: cosineWithNorms(h.exact.m.Row(node.Key), h.exact.norms[node.Key], query, qn),
		})
		if h.zeroRows > 0 && results[len(results)-1].Score < 0 {
			return h.exact.TopK(query, k)
		}
	}
	return rank(results, k)
}

// Similarity implements Index.
func (h *HNSW) Similarity(id int, query []float32) (float64, bool) {
	return h.exact.Similarity(id, query)
}

// Len implements Index.
func (h *HNSW) Len() int { return h.exact.Len() }

// Dimensions implements Index.
func (h *HNSW) Dimensions() int { return h.exact.Dimensions() }

// Backend implements Index.
func (h *HNSW) Backend() string { return "hnsw" }

var _ Index = (*HNSW)(nil)
