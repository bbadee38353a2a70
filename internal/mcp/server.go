package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Ingester Ingester
	Searcher Searcher
	Admin    Admin
	Version  string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "docindex",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Ingest a document: store its bytes, extract and chunk its text, embed the chunks and index them. Re-ingesting identical bytes returns status already_exists.",
	}, makeIngestHandler(cfg.Ingester))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over ingested documents. Returns the most similar text chunks with their document and similarity score.",
	}, makeSearchHandler(cfg.Searcher))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Retrieve a document's metadata and all of its chunks in order.",
	}, makeGetDocumentHandler(cfg.Searcher))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_document",
		Description: "Delete a document and all of its chunks from the index. The stored blob is kept.",
	}, makeDeleteHandler(cfg.Admin))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get document and chunk counts, the embedding dimension and catalog health.",
	}, makeStatusHandler(cfg.Admin))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
