package vector

// Flat is an exact index: every query scans all rows.
type Flat struct {
	m     *Matrix
	norms []float64
}

// NewFlat builds a Flat index over m and precomputes clamped row norms.
func NewFlat(m *Matrix) *Flat {
	norms := make([]float64, m.Rows())
	for i := range norms {
		norms[i] = clampNorm(Norm(m.Row(i)))
	}
	return &Flat{m: m, norms: norms}
}

// TopK implements Index.
func (f *Flat) TopK(query []float32, k int) []Result {
	if k < 1 || f.m.Rows() == 0 {
		return nil
	}
	qn, ok := queryNorm(query, f.m.Cols())
	if !ok {
		return nil
	}

	results := make([]Result, f.m.Rows())
	for i := range results {
		results[i] = Result{ID: i, Score: cosineWithNorms(f.m.Row(i), f.norms[i], query, qn)}
	}
	return rank(results, k)
}

// Similarity implements Index. The row norm is recomputed from the row.
func (f *Flat) Similarity(id int, query []float32) (float64, bool) {
	if id < 0 || id >= f.m.Rows() {
		return 0, false
	}
	qn, ok := queryNorm(query, f.m.Cols())
	if !ok {
		return 0, false
	}
	row := f.m.Row(id)
	return cosineWithNorms(row, clampNorm(Norm(row)), query, qn), true
}

// Len implements Index.
func (f *Flat) Len() int { return f.m.Rows() }

// Dimensions implements Index.
func (f *Flat) Dimensions() int { return f.m.Cols() }

// Backend implements Index.
func (f *Flat) Backend() string { return "flat" }

var _ Index = (*Flat)(nil)
var _ Index = Empty{}
