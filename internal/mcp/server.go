package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/kbcontext/internal/config"
	"github.com/Aman-CERP/kbcontext/internal/embed"
	"github.com/Aman-CERP/kbcontext/internal/kb"
	"github.com/Aman-CERP/kbcontext/internal/retrieval"
	"github.com/Aman-CERP/kbcontext/internal/telemetry"
	"github.com/Aman-CERP/kbcontext/pkg/version"
)

const (
	serverName           = "kbcontext"
	statusResourceURI    = "kbcontext://status"
	telemetryResourceURI = "kbcontext://telemetry"
)

// Retriever is the part of retrieval.Service the server needs.
type Retriever interface {
	Search(ctx context.Context, query string, k int, keywordOnly bool) retrieval.Result
	Current() *kb.Snapshot
}

// ReloadFunc rebuilds and installs the knowledge base snapshot.
type ReloadFunc func(ctx context.Context) (*kb.Snapshot, error)

// Server bridges MCP clients with the retrieval service.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	embedder  embed.Embedder
	config    *config.Config
	logger    *slog.Logger

	reload    ReloadFunc
	telemetry *telemetry.Recorder

	mu sync.RWMutex
}

// NewServer creates a new MCP server. embedder may be nil when no provider
// is configured.
func NewServer(retriever Retriever, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		retriever: retriever,
		embedder:  embedder,
		config:    cfg,
		logger:    slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil)

	s.registerTools()
	s.registerStatusResource()
	return s, nil
}

// SetReloader enables the kb_reload tool.
func (s *Server) SetReloader(fn ReloadFunc) {
	s.mu.Lock()
	first := s.reload == nil && fn != nil
	s.reload = fn
	s.mu.Unlock()

	if first {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        ToolKBReload,
			Description: "Reload the knowledge base files from disk. The current knowledge base keeps serving if the new files are worse.",
		}, s.mcpReloadHandler)
		s.logger.Debug("Registered tool", slog.String("name", ToolKBReload))
	}
}

// SetTelemetry exposes r as the telemetry resource.
func (s *Server) SetTelemetry(r *telemetry.Recorder) {
	s.mu.Lock()
	first := s.telemetry == nil && r != nil
	s.telemetry = r
	s.mu.Unlock()

	if first {
		s.mcp.AddResource(&mcp.Resource{
			Name:        "telemetry",
			URI:         telemetryResourceURI,
			Description: "Retrieval statistics for this session",
			MIMEType:    "application/json",
		}, s.handleTelemetryResource)
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// CallTool invokes a tool by name with loosely typed arguments. It serves
// in-process callers and tests that bypass the JSON-RPC layer.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRetrieveContext, ToolRetrieveKeyword:
		in, err := parseRetrieveArgs(args)
		if err != nil {
			return nil, err
		}
		text, _ := s.retrieve(ctx, in, name == ToolRetrieveKeyword)
		return text, nil
	case ToolKBStatus:
		return s.status(), nil
	case ToolKBReload:
		s.mu.RLock()
		fn := s.reload
		s.mu.RUnlock()
		if fn == nil {
			return nil, NewMethodNotFoundError(name)
		}
		return s.doReload(ctx, fn)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func parseRetrieveArgs(args map[string]any) (RetrieveInput, error) {
	var in RetrieveInput
	q, ok := args["query"].(string)
	if !ok {
		return in, NewInvalidParamsError("query parameter is required and must be a string")
	}
	in.Query = q

	switch v := args["k"].(type) {
	case nil:
	case float64:
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return in, NewInvalidParamsError("k must be an integer")
		}
		k := int(v)
		in.K = &k
	case int:
		in.K = &v
	default:
		return in, NewInvalidParamsError("k must be an integer")
	}
	return in, nil
}

// retrieve runs one retrieval. Empty knowledge bases, short queries and bad k
// come back as text, not protocol errors.
func (s *Server) retrieve(ctx context.Context, in RetrieveInput, keywordOnly bool) (string, RetrieveOutput) {
	requestID := generateRequestID()
	k := s.config.Retrieval.DefaultK
	if in.K != nil {
		k = *in.K
	}

	res := s.retriever.Search(ctx, in.Query, k, keywordOnly)

	s.logger.Info("retrieve completed",
		slog.String("request_id", requestID),
		slog.Bool("keyword_only", keywordOnly),
		slog.String("status", string(res.Status)),
		slog.String("strategy", res.Strategy),
		slog.Int("result_count", len(res.Items)),
		slog.Duration("duration", res.Duration))

	out := RetrieveOutput{
		Status:         string(res.Status),
		Strategy:       res.Strategy,
		FallbackReason: res.FallbackReason,
		Items:          res.Items,
		Generation:     res.Generation,
	}
	if out.Items == nil {
		out.Items = []retrieval.Item{}
	}
	return retrieval.Format(res), out
}

func (s *Server) status() *StatusOutput {
	out := &StatusOutput{
		KB: KBStatus{State: kb.StateUnavailable.String(), Reason: "knowledge base is closed"},
		Embedder: EmbedderStatus{
			Provider: s.config.Embeddings.Provider,
			Model:    "none",
		},
		Retrieval: RetrievalConfig{
			DefaultK:       s.config.Retrieval.DefaultK,
			MinQueryLength: s.config.Retrieval.MinQueryLength,
		},
	}

	if snap := s.retriever.Current(); snap != nil && !snap.Closed() {
		sum := snap.Summary()
		out.KB = KBStatus{
			State:      sum.State,
			Reason:     sum.Reason,
			Chunks:     sum.Chunks,
			Vectors:    sum.Vectors,
			Dimensions: sum.Dimensions,
			Backend:    sum.Backend,
			Keyword:    sum.Keyword,
			Model:      sum.Model,
			Generation: sum.Generation,
			Malformed:  sum.Malformed,
		}
		if !sum.LoadedAt.IsZero() {
			out.KB.LoadedAt = sum.LoadedAt.Format(time.RFC3339)
		}
	}

	if s.embedder != nil {
		out.Embedder.Model = s.embedder.ModelName()
		out.Embedder.Dimensions = s.embedder.Dimensions()
		if state, ok := embed.BreakerState(s.embedder); ok {
			out.Embedder.Circuit = state.String()
		}
	}
	return out
}

func (s *Server) doReload(ctx context.Context, fn ReloadFunc) (*StatusOutput, error) {
	if _, err := fn(ctx); err != nil {
		s.logger.Warn("reload failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return s.status(), nil
}

// registerTools registers the retrieval and status tools.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolRetrieveContext,
		Description: "Find course content relevant to a question. Uses semantic search when the knowledge base has embeddings and falls back to keyword matching otherwise. Returns a markdown context block ready to quote.",
	}, s.mcpRetrieveHandler)
	s.logger.Debug("Registered tool", slog.String("name", ToolRetrieveContext))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolRetrieveKeyword,
		Description: "Find course content by keyword overlap only. Use when exact terms matter more than meaning.",
	}, s.mcpRetrieveKeywordHandler)
	s.logger.Debug("Registered tool", slog.String("name", ToolRetrieveKeyword))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolKBStatus,
		Description: "Report whether the knowledge base is ready, degraded to keyword search, or unavailable, and which embedder answers queries.",
	}, s.mcpStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", ToolKBStatus))

	s.logger.Info("MCP tools registered", slog.Int("count", 3))
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	text, out := s.retrieve(ctx, input, false)
	return textResult(text), out, nil
}

func (s *Server) mcpRetrieveKeywordHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	text, out := s.retrieve(ctx, input, true)
	return textResult(text), out, nil
}

func (s *Server) mcpStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	return nil, *s.status(), nil
}

func (s *Server) mcpReloadHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ReloadInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	s.mu.RLock()
	fn := s.reload
	s.mu.RUnlock()

	out, err := s.doReload(ctx, fn)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) registerStatusResource() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "status",
		URI:         statusResourceURI,
		Description: "Knowledge base and embedder status",
		MIMEType:    "application/json",
	}, func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return jsonResource(statusResourceURI, s.status())
	})
}

func (s *Server) handleTelemetryResource(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	r := s.telemetry
	s.mu.RUnlock()
	if r == nil {
		return nil, NewInvalidParamsError("telemetry not available")
	}
	return jsonResource(telemetryResourceURI, r.Snapshot())
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
