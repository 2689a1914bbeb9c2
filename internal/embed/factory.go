package embed

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/kbcontext/internal/config"
	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// New builds the query embedder described by cfg, wrapped in a circuit
// breaker and an LRU cache. Provider "none" returns (nil, nil).
func New(cfg config.EmbeddingsConfig) (Embedder, error) {
	retry := kberrors.DefaultRetryConfig()
	retry.MaxRetries = max(cfg.Retries, 0)

	provider := strings.ToLower(cfg.Provider)
	var base Embedder
	switch provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderStatic:
		base = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama:
		base = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Retry:      retry,
		})
	case ProviderOpenAI:
		baseURL := cfg.Host
		if baseURL == DefaultOllamaHost {
			baseURL = ""
		}
		model := cfg.Model
		if model == DefaultOllamaModel {
			model = DefaultOpenAIModel
		}
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    baseURL,
			Model:      model,
			APIKeyEnv:  cfg.APIKeyEnv,
			Dimensions: cfg.Dimensions,
			Retry:      retry,
		})
		if err != nil {
			return nil, err
		}
		base = e
	default:
		return nil, kberrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil)
	}

	slog.Debug("embedder_created",
		slog.String("provider", provider),
		slog.String("model", base.ModelName()),
		slog.Int("dimensions", base.Dimensions()))

	if provider == ProviderStatic {
		return base, nil
	}

	cb := kberrors.NewCircuitBreaker("embed-"+provider,
		kberrors.WithMaxFailures(cfg.BreakerFailures),
		kberrors.WithResetTimeout(cfg.BreakerReset.Std()))
	return NewCachedEmbedder(NewBreakerEmbedder(base, cb), cfg.CacheSize), nil
}
