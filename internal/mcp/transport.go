package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. Default: false (stateful).
	Stateless bool
}

// NewHTTPHandler creates an HTTP handler for the MCP server using Streamable HTTP transport.
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{
		Stateless: opts.Stateless,
	})
}

// NewMux routes the landing page, /health and /mcp.
func NewMux(server *Server, health HealthChecker, opts *HTTPHandlerOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", NewLandingHandler())
	mux.HandleFunc("/health", NewHealthHandler(health))
	mux.Handle("/mcp", NewHTTPHandler(server, opts))
	return mux
}
