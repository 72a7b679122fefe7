package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/chime/internal/telemetry"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds    int64              `json:"uptime_seconds"`
	Metrics          telemetry.Snapshot `json:"metrics"`
	Jobs             int                `json:"jobs"`
	Credentials      int                `json:"credentials"`
	Sinks            []string           `json:"sinks"`
	AuditWriteErrors int64              `json:"audit_write_errors"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
// Credential counts are presence only; token material never leaves the store.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(g.startedAt) / time.Second),
			Sinks:         []string{},
		}

		if g.metrics != nil {
			resp.Metrics = g.metrics.Snapshot()
		}
		if g.engine != nil {
			resp.Jobs = g.engine.Registry().Len()
		}
		if g.store != nil {
			if recs, err := g.store.ListCredentials(r.Context()); err == nil {
				resp.Credentials = len(recs)
			}
		}
		if g.dispatcher != nil {
			resp.Sinks = g.dispatcher.Sinks()
		}
		if g.audit != nil {
			resp.AuditWriteErrors = g.audit.WriteErrors()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
