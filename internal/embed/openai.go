package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	// BaseURL selects an OpenAI-compatible endpoint. Empty means api.openai.com.
	BaseURL string
	Model   string
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string
	// Dimensions is sent to models that support shortened embeddings. 0 omits it.
	Dimensions int
	Retry      kberrors.RetryConfig
	// HTTPClient overrides the HTTP client (tests).
	HTTPClient *http.Client
}

// OpenAIEmbedder calls the /embeddings endpoint of any OpenAI-compatible API.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    OpenAIConfig
	dims   int
}

// NewOpenAIEmbedder creates an OpenAI embedder. It fails when the API key
// variable is unset.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, kberrors.ConfigError(cfg.APIKeyEnv+" environment variable not set", nil).
			WithSuggestion("Export the key or add it to a .env file")
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		dims:   cfg.Dimensions,
	}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := kberrors.RetryWithResult(ctx, e.cfg.Retry, func() ([]float32, error) {
		return e.doEmbed(ctx, text)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, kberrors.New(kberrors.ErrCodeEmbedTimeout, "openai embedding timed out", err)
	}
	return vec, err
}

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Input:      []string{text},
		Dimensions: e.cfg.Dimensions,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed, "no embedding data returned from API", nil)
	}

	vec, ok := toFloat32(resp.Data[0].Embedding)
	if !ok {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed, "embedding contains non-finite values", nil)
	}
	return vec, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("openai API error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return kberrors.New(kberrors.ErrCodeEmbedRateLimited, msg, err)
		case apiErr.HTTPStatusCode >= 500:
			return kberrors.ProviderError(msg, err)
		default:
			return kberrors.New(kberrors.ErrCodeEmbeddingFailed, msg, err)
		}
	}
	return kberrors.ProviderError("openai request failed", err)
}

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName implements Embedder.
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

// Close implements Embedder.
func (e *OpenAIEmbedder) Close() error { return nil }

var _ Embedder = (*OpenAIEmbedder)(nil)
