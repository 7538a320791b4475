package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/vidvault/internal/api/response"
)

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. Each
// named dependency is pinged; any failure turns the answer into a 503.
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string, len(deps))
		healthy := true
		for name, p := range deps {
			if err := p.Ping(ctx); err != nil {
				checks[name] = "unavailable"
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		body := map[string]any{"status": "ok", "checks": checks}
		if !healthy {
			body["status"] = "degraded"
			response.Unavailable(w, body)
			return
		}
		response.JSON(w, body)
	}
}
