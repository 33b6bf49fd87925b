package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/cardrag/internal/index"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/resolve"
	"github.com/Aman-CERP/cardrag/pkg/version"
)

// Engine is the pipeline surface the tools call.
type Engine interface {
	ResolveAndQuery(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	RebuildCategoryIndexes(ctx context.Context, force bool) ([]*index.RebuildResult, error)
	SearchCategory(ctx context.Context, scope, question string, topK int) (*pipeline.SearchResult, error)
	ListCards(ctx context.Context) ([]resolve.Entry, error)
	ClearCache() int
}

var _ Engine = (*pipeline.Pipeline)(nil)

// Server serves card tools to MCP clients.
type Server struct {
	engine   Engine
	server   *mcp.Server
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes g at /metrics on the HTTP transport.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "ask_card",
		Description: "Answer a question about one credit or check card using only its terms and product documents. Set explain_easy for a plain-language version that keeps every amount and condition.",
	},
	{
		Name:        "search_cards",
		Description: "Search document fragments across all cards of a category (credit, check) or all categories without generating an answer.",
	},
	{
		Name:        "list_cards",
		Description: "List the card names that ask_card can resolve, optionally filtered by category.",
	},
	{
		Name:        "rebuild_indexes",
		Description: "Rebuild the per-category search indexes from the card documents. Existing indexes are kept unless force is set.",
	},
	{
		Name:        "clear_cache",
		Description: "Drop cached per-card indexes so the next question reloads them.",
	},
}

// NewServer creates a server over engine and registers its tools.
func NewServer(engine Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, ErrMissingEngine
	}
	s := &Server{
		engine: engine,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "cardrag",
			Version: version.Version,
		}, nil),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.handleAskCard)
	mcp.AddTool(s.server, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.handleSearchCards)
	mcp.AddTool(s.server, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.handleListCards)
	mcp.AddTool(s.server, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, s.handleRebuildIndexes)
	mcp.AddTool(s.server, &mcp.Tool{Name: tools[4].Name, Description: tools[4].Description}, s.handleClearCache)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// Serve runs the server on transport "stdio" or "http" (streamable HTTP on
// addr) until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("addr", addr))

	var err error
	switch transport {
	case "stdio", "":
		err = s.server.Run(ctx, &mcp.StdioTransport{})
	case "http":
		err = s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// Handler returns the streamable HTTP handler, with /metrics when a
// gatherer is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil))
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
