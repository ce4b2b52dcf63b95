// Package mcp exposes chat, retrieval and ingestion as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spetr/chatwizard/internal/chat"
	"github.com/spetr/chatwizard/internal/config"
	"github.com/spetr/chatwizard/internal/ingest"
	"github.com/spetr/chatwizard/internal/router"
	"github.com/spetr/chatwizard/pkg/provider"
	"github.com/spetr/chatwizard/pkg/types"
)

// Server implements the MCP server.
type Server struct {
	mcpServer  *server.MCPServer
	projectDir string
	config     *config.Config
	router     *router.Router
	chat       *chat.Service
	ingester   *ingest.Ingester
	index      provider.VectorIndex
}

// Config contains server configuration.
type Config struct {
	ProjectDir string
	Version    string
	Config     *config.Config
	Router     *router.Router
	Chat       *chat.Service
	Ingester   *ingest.Ingester
	Index      provider.VectorIndex
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	if cfg.Config == nil || cfg.Router == nil || cfg.Chat == nil {
		return nil, fmt.Errorf("mcp server requires config, router and chat service")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		projectDir: cfg.ProjectDir,
		config:     cfg.Config,
		router:     cfg.Router,
		chat:       cfg.Chat,
		ingester:   cfg.Ingester,
		index:      cfg.Index,
	}

	mcpServer := server.NewMCPServer(
		"chatwizard",
		cfg.Version,
		server.WithLogging(),
	)
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// chat - Ask a model, optionally grounded in indexed documents
	mcpServer.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Send a message to a configured model and return its reply"),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("system", mcp.Description("Optional system prompt")),
		mcp.WithString("model", mcp.Description("Logical model id (default from config)")),
		mcp.WithBoolean("rag", mcp.Description("Augment with retrieved documents (default from config)")),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature")),
		mcp.WithNumber("max_tokens", mcp.Description("Maximum tokens to generate")),
	), s.handleChat)

	// search_documents - Similarity search over the index
	mcpServer.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search indexed documents by semantic similarity"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default retrieval.top_k)")),
	), s.handleSearchDocuments)

	// ingest_text - Index a piece of text under a source name
	mcpServer.AddTool(mcp.NewTool("ingest_text",
		mcp.WithDescription("Chunk, embed and index text. Re-ingesting a source replaces it"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source name")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to index")),
	), s.handleIngestText)

	// ingest_path - Index a file or directory inside the project
	mcpServer.AddTool(mcp.NewTool("ingest_path",
		mcp.WithDescription("Index a file or directory of the project"),
		mcp.WithString("path", mcp.Description("Path relative to the project (default: whole project)")),
	), s.handleIngestPath)

	// list_models - Configured logical models
	mcpServer.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List configured completion and embedding models"),
	), s.handleListModels)

	// get_status - Index status
	mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Get index status and statistics"),
	), s.handleGetStatus)
}

func (s *Server) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if strings.TrimSpace(message) == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	var conversation []types.Message
	if system := req.GetString("system", ""); system != "" {
		conversation = append(conversation, types.Message{Role: types.RoleSystem, Content: system})
	}
	conversation = append(conversation, types.Message{Role: types.RoleUser, Content: message})

	resp, err := s.chat.Stream(ctx, chat.Request{
		Conversation: conversation,
		Generation: types.GenerationConfig{
			Model:       req.GetString("model", ""),
			Temperature: optionalFloat32(req, "temperature"),
			MaxTokens:   req.GetInt("max_tokens", 0),
		},
		UseRAG: req.GetBool("rag", s.config.Retrieval.Enabled),
	}, nil)
	if err != nil {
		return toolError("chat", err), nil
	}

	result := map[string]any{
		"content": resp.Message.Content,
		"status":  resp.Status,
		"model":   resp.Message.Metadata["model"],
	}
	if r := resp.Retrieval; r != nil {
		result["provider"] = r.Provider
		var sources []map[string]any
		for _, d := range r.Retrieved {
			sources = append(sources, map[string]any{
				"id":     d.Document.ID,
				"source": d.Document.Metadata[ingest.MetadataSource],
				"score":  d.Score,
			})
		}
		if len(sources) > 0 {
			result["sources"] = sources
		}
		if r.RetrievalErr != nil {
			result["retrieval_error"] = r.RetrievalErr.Error()
		}
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleSearchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.index == nil {
		return mcp.NewToolResultError("no vector index configured"), nil
	}
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	limit := req.GetInt("limit", s.config.Retrieval.TopK)

	embedder, err := s.router.ResolveEmbeddingProvider("")
	if err != nil {
		return toolError("search", err), nil
	}
	vec, err := provider.EmbedText(ctx, embedder, query)
	if err != nil {
		return toolError("search", err), nil
	}
	docs, err := s.index.FindSimilar(ctx, vec, limit)
	if err != nil {
		return toolError("search", err), nil
	}

	results := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		results = append(results, map[string]any{
			"id":       d.Document.ID,
			"score":    d.Score,
			"content":  d.Document.Content,
			"metadata": d.Document.Metadata,
		})
	}

	jsonResult, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleIngestText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ingester == nil {
		return mcp.NewToolResultError("ingestion is not configured"), nil
	}
	source := req.GetString("source", "")
	if source == "" {
		return mcp.NewToolResultError("source is required"), nil
	}

	n, err := s.ingester.IngestText(ctx, source, req.GetString("text", ""), nil)
	if err != nil {
		return toolError("ingest", err), nil
	}

	jsonResult, _ := json.MarshalIndent(map[string]any{
		"source": source,
		"chunks": n,
	}, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleIngestPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ingester == nil {
		return mcp.NewToolResultError("ingestion is not configured"), nil
	}

	path, err := s.projectPath(req.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot access path: %v", err)), nil
	}

	var result map[string]any
	if info.IsDir() {
		stats, err := s.ingester.IngestDir(ctx, path)
		if err != nil {
			return toolError("ingest", err), nil
		}
		result = map[string]any{
			"path":    s.ingester.SourceName(path),
			"files":   stats.Files,
			"chunks":  stats.Chunks,
			"skipped": stats.Skipped,
			"failed":  stats.Failed,
		}
	} else {
		n, err := s.ingester.IngestFile(ctx, path)
		if err != nil {
			return toolError("ingest", err), nil
		}
		result = map[string]any{
			"path":   s.ingester.SourceName(path),
			"chunks": n,
		}
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// projectPath resolves p against the project directory and refuses paths
// outside of it.
func (s *Server) projectPath(p string) (string, error) {
	root, err := filepath.Abs(s.projectDir)
	if err != nil {
		return "", fmt.Errorf("invalid project directory: %w", err)
	}
	if p == "" {
		return root, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the project", p)
	}
	return p, nil
}

func (s *Server) handleListModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	describe := func(models []config.ModelConfig) []map[string]any {
		out := make([]map[string]any, 0, len(models))
		for _, m := range models {
			out = append(out, map[string]any{
				"id":       m.ID,
				"provider": m.Provider,
				"model":    m.Model,
			})
		}
		return out
	}

	result := map[string]any{
		"default_completion": s.router.DefaultCompletionModel(),
		"default_embedding":  s.router.DefaultEmbeddingModel(),
		"completion":         describe(s.config.Models.Completion),
		"embedding":          describe(s.config.Models.Embedding),
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleGetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := map[string]any{
		"embedding_model":   s.router.DefaultEmbeddingModel(),
		"chunking_strategy": s.config.Chunking.Strategy,
		"config_hash":       s.config.Hash()[:12],
		"rag_enabled":       s.config.Retrieval.Enabled,
	}

	if s.index != nil {
		count, err := s.index.Count(ctx)
		if err != nil {
			return toolError("status", err), nil
		}
		stats := types.IndexStats{
			Store:      s.index.Name(),
			Documents:  count,
			Dimensions: s.index.Dimensions(),
		}
		result["index"] = stats
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// toolError turns a pipeline error into a tool result with a hint chosen by
// the kind of failure.
// optionalFloat32 returns the named number argument, or nil when the caller
// did not pass it.
func optionalFloat32(req mcp.CallToolRequest, key string) *float32 {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	return types.Float32(float32(req.GetFloat(key, 0)))
}

func toolError(op string, err error) *mcp.CallToolResult {
	slog.Warn("tool failed", "op", op, "error", err)

	var msg string
	switch {
	case errors.Is(err, types.ErrUnknownModel):
		msg = "model unavailable"
	case errors.Is(err, types.ErrConfiguration):
		msg = "provider is not configured, check your API key and model settings"
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		msg = "embedding model unavailable"
	case errors.Is(err, types.ErrTransport):
		msg = "cannot reach the model provider"
	case errors.Is(err, types.ErrVendor):
		msg = "the model provider rejected the request"
	case errors.Is(err, types.ErrDimensionMismatch):
		msg = "embedding dimension does not match the index, re-ingest with the current embedding model"
	case errors.Is(err, types.ErrInvalidConversation), errors.Is(err, types.ErrInvalidDocument):
		msg = "invalid input"
	default:
		msg = op + " failed"
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", msg, err))
}
