package gateway

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status           string `json:"status"` // "ok" or "degraded"
	Jobs             int    `json:"jobs"`
	AuditWriteErrors int64  `json:"audit_write_errors,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when healthy, 503 when the audit destination is broken.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status: "ok",
		}

		if g.engine != nil {
			resp.Jobs = g.engine.Registry().Len()
		}

		if g.audit != nil {
			resp.AuditWriteErrors = g.audit.WriteErrors()
			if resp.AuditWriteErrors > 0 {
				resp.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
