package mcp

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>docindex</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; }
  main { max-width: 640px; margin: 3rem auto; padding: 0 1.5rem; }
  h1 { font-size: 1.6rem; margin-bottom: 0.25rem; }
  .subtitle { color: #64748b; margin-top: 0; }
  h2 { font-size: 0.8rem; text-transform: uppercase; letter-spacing: 0.08em; color: #64748b; margin-top: 2rem; }
  code, .endpoint { font-family: "SF Mono", "Fira Code", Menlo, monospace; font-size: 0.9rem; }
  pre { background: #0f172a; color: #e2e8f0; border-radius: 6px; padding: 0.9rem; overflow-x: auto; }
  li { margin-bottom: 0.35rem; }
  a { color: #2563eb; text-decoration: none; }
</style>
</head>
<body>
<main>
  <h1>docindex</h1>
  <p class="subtitle">Document ingestion and semantic search over the Model Context Protocol.</p>

  <h2>Endpoints</h2>
  <ul>
    <li><a href="/mcp" class="endpoint">/mcp</a>: MCP Streamable HTTP</li>
    <li><a href="/health" class="endpoint">/health</a>: catalog health</li>
  </ul>

  <h2>Tools</h2>
  <ul>
    <li><code>ingest_document</code></li>
    <li><code>search_documents</code></li>
    <li><code>get_document</code></li>
    <li><code>delete_document</code></li>
    <li><code>get_index_status</code></li>
  </ul>

  <h2>Connect</h2>
  <pre><code>{"mcpServers": {"docindex": {"type": "http", "url": "http://localhost:8080/mcp"}}}</code></pre>
</main>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingHTML))
	}
}
