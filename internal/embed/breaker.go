package embed

import (
	"context"
	"errors"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// BreakerEmbedder stops calling a provider after repeated failures so that a
// dead endpoint costs the keyword fallback nothing but a state check.
type BreakerEmbedder struct {
	inner   Embedder
	breaker *kberrors.CircuitBreaker
}

// NewBreakerEmbedder wraps inner with cb.
func NewBreakerEmbedder(inner Embedder, cb *kberrors.CircuitBreaker) *BreakerEmbedder {
	return &BreakerEmbedder{inner: inner, breaker: cb}
}

// Embed implements Embedder. An open circuit fails fast with a provider error.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := kberrors.CircuitExecute(b.breaker, func() ([]float32, error) {
		return b.inner.Embed(ctx, text)
	})
	if errors.Is(err, kberrors.ErrCircuitOpen) {
		return nil, kberrors.ProviderError("embedding provider circuit is open", err).
			WithDetail("provider", b.inner.ModelName())
	}
	return vec, err
}

// State reports the breaker state.
func (b *BreakerEmbedder) State() kberrors.State { return b.breaker.State() }

// Dimensions implements Embedder.
func (b *BreakerEmbedder) Dimensions() int { return b.inner.Dimensions() }

// ModelName implements Embedder.
func (b *BreakerEmbedder) ModelName() string { return b.inner.ModelName() }

// Close implements Embedder.
func (b *BreakerEmbedder) Close() error { return b.inner.Close() }

var _ Embedder = (*BreakerEmbedder)(nil)

// BreakerState finds a BreakerEmbedder inside e, looking through a cache layer.
func BreakerState(e Embedder) (kberrors.State, bool) {
	if c, ok := e.(*CachedEmbedder); ok {
		e = c.Inner()
	}
	if b, ok := e.(*BreakerEmbedder); ok {
		return b.State(), true
	}
	return kberrors.StateClosed, false
}
