package retrieval

// Strategy is the ranking path chosen for one request. It is either a
// VectorStrategy or a KeywordStrategy.
type Strategy interface {
	Name() string
	isStrategy()
}

// VectorStrategy ranks by cosine similarity against Query.
type VectorStrategy struct {
	Query []float32
}

// KeywordStrategy ranks by word overlap. Reason is empty when the caller
// asked for keyword search; otherwise it says why the vector path was skipped.
type KeywordStrategy struct {
	Reason string
}

// Strategy names.
const (
	StrategyVector  = "vector"
	StrategyKeyword = "keyword"
)

func (VectorStrategy) Name() string  { return StrategyVector }
func (KeywordStrategy) Name() string { return StrategyKeyword }

func (VectorStrategy) isStrategy()  {}
func (KeywordStrategy) isStrategy() {}
