package kb

import (
	"context"

	"github.com/Aman-CERP/kbcontext/internal/keyword"
)

// kbtestSearcher is a keyword.Searcher that never matches.
type kbtestSearcher struct{}

func (*kbtestSearcher) Search(context.Context, string, int) (keyword.Result, error) {
	return keyword.Result{}, nil
}

func (*kbtestSearcher) Mode() string { return "test" }
