package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// Ollama API defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaPoolSize caps idle connections to the Ollama host.
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string
	// Dimensions is the expected vector width. 0 learns it from the first reply.
	Dimensions int
	Retry      kberrors.RetryConfig
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings with Ollama's /api/embed endpoint.
// It does not contact the host until the first Embed call.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

// NewOllamaEmbedder creates an Ollama embedder.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	e := &OllamaEmbedder{cfg: cfg, dims: cfg.Dimensions}
	if cfg.Client != nil {
		e.client = cfg.Client
		return e
	}

	// No client-wide Timeout: the caller's context bounds each request.
	e.transport = &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		IdleConnTimeout:     30 * time.Second,
	}
	e.client = &http.Client{Transport: e.transport}
	return e
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	vec, err := kberrors.RetryWithResult(ctx, e.cfg.Retry, func() ([]float32, error) {
		return e.doEmbed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, kberrors.New(kberrors.ErrCodeEmbedTimeout, "ollama embedding timed out", err)
		}
		return nil, err
	}

	e.mu.Lock()
	if e.dims == 0 {
		e.dims = len(vec)
	}
	e.mu.Unlock()
	return vec, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kberrors.ProviderError("failed to connect to Ollama", err).
			WithDetail("host", e.cfg.Host).
			WithSuggestion("Start Ollama with 'ollama serve' or set embeddings.provider")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("ollama", resp)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed, "failed to decode Ollama response", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed, "empty embedding returned", nil)
	}

	vec, ok := toFloat32(result.Embeddings[0])
	if !ok {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed, "embedding contains non-finite values", nil)
	}
	return vec, nil
}

// statusError maps an HTTP status to a coded provider error.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s returned status %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return kberrors.New(kberrors.ErrCodeEmbedRateLimited, msg, nil)
	case resp.StatusCode >= 500:
		return kberrors.ProviderError(msg, nil)
	default:
		return kberrors.New(kberrors.ErrCodeEmbeddingFailed, msg, nil)
	}
}

// Dimensions implements Embedder.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName implements Embedder.
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Close implements Embedder.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

var _ Embedder = (*OllamaEmbedder)(nil)
