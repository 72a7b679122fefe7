package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/chime/internal/config"
	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/schedule"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
)

// configApplier pushes an already-validated config into the running
// modules. Satisfied by the reload handler registered under the
// "reload.handler" service name.
type configApplier interface {
	HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error
}

// maxBodySize bounds admin request bodies.
const maxBodySize = 64 << 10 // 64 KiB

// decodeJSON reads and decodes a request body into v, enforcing size and
// nesting limits before the decoder ever sees the payload.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := security.ValidateMessageSize(body, maxBodySize); err != nil {
		return err
	}
	if err := security.ValidateJSONDepth(body, 0); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// jobJSON is a serializable scheduled job. Active reports whether the
// job is currently registered with the engine, which can lag the store
// when a persisted expression failed to load.
type jobJSON struct {
	ID        int64  `json:"id"`
	OwnerID   string `json:"owner_id"`
	Schedule  string `json:"schedule"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
	Active    bool   `json:"active"`
}

func (g *Gateway) jobToJSON(job storage.ScheduledJob) jobJSON {
	active := false
	if g.engine != nil {
		_, active = g.engine.Registry().Job(job.ID)
	}
	return jobJSON{
		ID:        job.ID,
		OwnerID:   job.OwnerID,
		Schedule:  job.Schedule,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		Active:    active,
	}
}

// handleListJobs returns all persisted jobs as JSON.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		jobs, err := g.store.ListJobs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list jobs")
			return
		}

		out := make([]jobJSON, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, g.jobToJSON(job))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type addJobRequest struct {
	OwnerID  string `json:"owner_id"`
	Schedule string `json:"schedule"`
	Payload  string `json:"payload"`
}

// handleAddJob validates, persists and schedules a new reminder.
// The cron expression is checked before anything is written, so an
// invalid expression never reaches the store.
func (g *Gateway) handleAddJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil || g.engine == nil {
			writeError(w, http.StatusServiceUnavailable, "scheduler not available")
			return
		}

		var req addJobRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		req.OwnerID = strings.TrimSpace(req.OwnerID)
		req.Schedule = strings.TrimSpace(req.Schedule)
		if req.OwnerID == "" || req.Schedule == "" || req.Payload == "" {
			writeError(w, http.StatusBadRequest, "owner_id, schedule and payload are required")
			return
		}

		if err := schedule.Validate(req.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		job := storage.ScheduledJob{
			OwnerID:  req.OwnerID,
			Schedule: req.Schedule,
			Payload:  req.Payload,
		}
		id, err := g.store.AddJob(r.Context(), job)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist job")
			return
		}
		job.ID = id

		if err := g.engine.Add(job); err != nil {
			// The expression was validated above, so this is exceptional.
			// Roll the persisted row back to keep store and engine aligned.
			_, _ = g.store.DeleteJob(r.Context(), id)
			writeError(w, http.StatusInternalServerError, "failed to schedule job")
			return
		}

		g.auditLog(security.AuditEvent{
			Type:     security.EventJobAdd,
			Identity: req.OwnerID,
			JobID:    id,
			Outcome:  "success",
		})
		g.publish(event.TypeJobAdded, map[string]any{
			"job_id":   id,
			"owner_id": req.OwnerID,
			"schedule": req.Schedule,
		})

		writeJSON(w, http.StatusCreated, g.jobToJSON(job))
	}
}

// handleDeleteJob unschedules and deletes a job by id.
func (g *Gateway) handleDeleteJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job id")
			return
		}

		unscheduled := false
		if g.engine != nil {
			unscheduled = g.engine.Remove(id)
		}
		removed, err := g.store.DeleteJob(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete job")
			return
		}

		if !removed && !unscheduled {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		g.auditLog(security.AuditEvent{
			Type:    security.EventJobRemove,
			JobID:   id,
			Outcome: "success",
		})
		g.publish(event.TypeJobRemoved, map[string]any{"job_id": id})

		w.WriteHeader(http.StatusNoContent)
	}
}

// linkJSON is a serializable identity link.
type linkJSON struct {
	IdentityID string `json:"identity_id"`
	Channel    string `json:"channel"`
	Address    string `json:"address"`
	CreatedAt  string `json:"created_at"`
}

func linkToJSON(l storage.IdentityLink) linkJSON {
	return linkJSON{
		IdentityID: l.IdentityID,
		Channel:    l.Channel,
		Address:    l.Address,
		CreatedAt:  l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleListLinks returns all identity links.
func (g *Gateway) handleListLinks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		links, err := g.store.ListLinks(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list links")
			return
		}

		out := make([]linkJSON, 0, len(links))
		for _, l := range links {
			out = append(out, linkToJSON(l))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type addLinkRequest struct {
	IdentityID string `json:"identity_id"`
	Channel    string `json:"channel"`
	Address    string `json:"address"`
}

// handleAddLink creates or replaces an identity link. The channel must
// name a registered sink; a typo here would silently swallow reminders.
func (g *Gateway) handleAddLink() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		var req addLinkRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		req.IdentityID = strings.TrimSpace(req.IdentityID)
		req.Channel = strings.TrimSpace(req.Channel)
		req.Address = strings.TrimSpace(req.Address)
		if req.IdentityID == "" || req.Channel == "" || req.Address == "" {
			writeError(w, http.StatusBadRequest, "identity_id, channel and address are required")
			return
		}

		if g.dispatcher != nil {
			known := false
			for _, name := range g.dispatcher.Sinks() {
				if name == req.Channel {
					known = true
					break
				}
			}
			if !known {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("unknown sink %q, registered: %s", req.Channel, strings.Join(g.dispatcher.Sinks(), ", ")))
				return
			}
		}

		link := storage.IdentityLink{
			IdentityID: req.IdentityID,
			Channel:    req.Channel,
			Address:    req.Address,
		}
		if err := g.store.SaveLink(r.Context(), link); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save link")
			return
		}

		g.auditLog(security.AuditEvent{
			Type:     security.EventConfigChange,
			Identity: req.IdentityID,
			Outcome:  "success",
			Detail:   "identity link saved for " + req.Channel,
		})

		saved, err := g.store.Link(r.Context(), req.IdentityID, req.Channel)
		if err != nil {
			writeJSON(w, http.StatusCreated, linkToJSON(link))
			return
		}
		writeJSON(w, http.StatusCreated, linkToJSON(saved))
	}
}

// handleDeleteLink removes an identity link.
func (g *Gateway) handleDeleteLink() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		identity := chi.URLParam(r, "identity")
		channel := chi.URLParam(r, "channel")

		removed, err := g.store.DeleteLink(r.Context(), identity, channel)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete link")
			return
		}
		if !removed {
			writeError(w, http.StatusNotFound, "link not found")
			return
		}

		g.auditLog(security.AuditEvent{
			Type:     security.EventConfigChange,
			Identity: identity,
			Outcome:  "success",
			Detail:   "identity link removed for " + channel,
		})

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleGetConfig returns the on-disk configuration with secrets redacted.
// The raw file is re-parsed generically so the redaction walker sees every
// key, module sections included, and env placeholders stay unexpanded.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.configPath == "" {
			writeError(w, http.StatusServiceUnavailable, "config path not set")
			return
		}

		raw, err := os.ReadFile(g.configPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read config")
			return
		}

		var generic map[string]any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to parse config")
			return
		}

		// The shared redactor also knows runtime literals; fall back to the
		// built-in patterns when running without one (tests, degraded wiring).
		r := g.redactor
		if r == nil {
			r = security.NewRedactor()
		}
		r.RedactMap(generic)

		writeJSON(w, http.StatusOK, generic)
	}
}

// handleReloadConfig triggers a hot-reload of the configuration. The
// file is loaded and validated here so the caller gets parse errors in
// the response, then the validated config is handed to the reload
// handler; applying the same bytes that were checked means an edit
// between check and apply cannot slip through unvalidated. When no
// handler is wired the config is validated only, which still catches
// broken edits before a restart.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.configPath == "" {
			writeError(w, http.StatusServiceUnavailable, "config path not set")
			return
		}

		cfg, err := config.Load(g.configPath)
		if err != nil {
			g.logger.Error("config reload failed", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := config.Validate(cfg); err != nil {
			g.logger.Error("config validation failed on reload", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if g.applier != nil {
			if err := g.applier.HandleReloadFromConfig(r.Context(), cfg); err != nil {
				g.logger.Error("config reload apply failed", "error", err)
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}

		g.auditLog(security.AuditEvent{
			Type:    security.EventConfigChange,
			Outcome: "success",
			Detail:  "configuration reloaded",
		})
		g.logger.Info("configuration reloaded successfully")
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}

// auditLog records an event when the audit logger is wired.
func (g *Gateway) auditLog(e security.AuditEvent) {
	if g.audit == nil {
		return
	}
	g.audit.Log(e)
}

// publish forwards an event when the bus is wired.
func (g *Gateway) publish(eventType string, data map[string]any) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(event.Event{Type: eventType, Data: data})
}
