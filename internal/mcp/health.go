package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Catalog   string `json:"catalog"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by every catalog backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It reports catalog connectivity: 200 when reachable, 503 otherwise.
func NewHealthHandler(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Create context with 3-second timeout for health check
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		err := store.Health(ctx)

		// Prepare response
		response := HealthResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")

		if err != nil {
			response.Status = "unhealthy"
			response.Catalog = "disconnected"
			response.Error = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable) // 503
			json.NewEncoder(w).Encode(response)
			return
		}

		response.Status = "healthy"
		response.Catalog = "connected"
		w.WriteHeader(http.StatusOK) // 200
		json.NewEncoder(w).Encode(response)
	}
}
