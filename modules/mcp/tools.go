package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flemzord/chime/internal/credential"
	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/schedule"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
)

// jobView is the JSON shape tools return for a scheduled job.
type jobView struct {
	ID        int64  `json:"id"`
	OwnerID   string `json:"owner_id"`
	Schedule  string `json:"schedule"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
	Active    bool   `json:"active"`
}

func (s *Server) jobToView(job storage.ScheduledJob) jobView {
	active := false
	if s.engine != nil {
		_, active = s.engine.Registry().Job(job.ID)
	}
	return jobView{
		ID:        job.ID,
		OwnerID:   job.OwnerID,
		Schedule:  job.Schedule,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		Active:    active,
	}
}

// credentialView is the metadata shape for a stored credential. Token
// values are never serialized; only presence flags and timestamps leave
// the process.
type credentialView struct {
	IdentityID      string `json:"identity_id"`
	HasAccessToken  bool   `json:"has_access_token"`
	HasRefreshToken bool   `json:"has_refresh_token"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	Valid           bool   `json:"valid"`
}

func credentialToView(rec storage.CredentialRecord, now time.Time) credentialView {
	out := credentialView{
		IdentityID:      rec.IdentityID,
		HasAccessToken:  rec.AccessToken != "",
		HasRefreshToken: rec.HasRefreshToken(),
		Valid:           credential.IsValid(rec, now),
	}
	if rec.HasExpiry() {
		out.ExpiresAt = rec.Expiry().UTC().Format(time.RFC3339)
	}
	return out
}

// linkView is the JSON shape for an identity link.
type linkView struct {
	IdentityID string `json:"identity_id"`
	Channel    string `json:"channel"`
	Address    string `json:"address"`
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

// registerTools declares the tool surface on the MCP server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("reminder_add",
		mcp.WithDescription("Create a scheduled reminder. The schedule is a five-field cron expression, e.g. \"0 9 * * *\" for 09:00 daily."),
		mcp.WithString("owner_id", mcp.Required(),
			mcp.Description("Identity that owns the reminder and receives the notification.")),
		mcp.WithString("schedule", mcp.Required(),
			mcp.Description("Cron expression: minute hour day-of-month month day-of-week.")),
		mcp.WithString("payload", mcp.Required(),
			mcp.Description("Text delivered when the reminder fires.")),
	), s.handleReminderAdd)

	s.mcpServer.AddTool(mcp.NewTool("reminder_remove",
		mcp.WithDescription("Unschedule and delete a reminder by id."),
		mcp.WithNumber("id", mcp.Required(),
			mcp.Description("Id of the reminder, as returned by reminder_add or reminder_list.")),
	), s.handleReminderRemove)

	s.mcpServer.AddTool(mcp.NewTool("reminder_list",
		mcp.WithDescription("List scheduled reminders, optionally filtered by owner."),
		mcp.WithString("owner_id",
			mcp.Description("Only return reminders owned by this identity.")),
	), s.handleReminderList)

	s.mcpServer.AddTool(mcp.NewTool("credential_status",
		mcp.WithDescription("Report stored credential metadata: presence flags, expiry and validity. Token values are never returned."),
		mcp.WithString("identity_id",
			mcp.Description("Identity to report on; omit to list all stored credentials.")),
	), s.handleCredentialStatus)

	s.mcpServer.AddTool(mcp.NewTool("identity_link",
		mcp.WithDescription("Link an identity to a notification channel so its reminders have a destination. Replaces any existing link on the same channel."),
		mcp.WithString("identity_id", mcp.Required(),
			mcp.Description("Identity to link.")),
		mcp.WithString("channel", mcp.Required(),
			mcp.Description("Registered sink name, e.g. notify.telegram or notify.webhook.")),
		mcp.WithString("address", mcp.Required(),
			mcp.Description("Channel-specific destination: a chat id for Telegram, a URL for webhooks.")),
	), s.handleIdentityLink)
}

// handleReminderAdd validates, persists and schedules a new reminder.
// The cron expression is checked before anything is written, so an
// invalid expression never reaches the store.
func (s *Server) handleReminderAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil || s.engine == nil {
		return mcp.NewToolResultError("scheduler not available"), nil
	}

	ownerID, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expr, err := req.RequireString("schedule")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := req.RequireString("payload")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ownerID = strings.TrimSpace(ownerID)
	expr = strings.TrimSpace(expr)
	if ownerID == "" || expr == "" || payload == "" {
		return mcp.NewToolResultError("owner_id, schedule and payload must not be empty"), nil
	}

	if err := schedule.Validate(expr); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job := storage.ScheduledJob{
		OwnerID:  ownerID,
		Schedule: expr,
		Payload:  payload,
	}
	id, err := s.store.AddJob(ctx, job)
	if err != nil {
		return mcp.NewToolResultError("failed to persist reminder"), nil
	}
	job.ID = id

	if err := s.engine.Add(job); err != nil {
		// The expression was validated above, so this is exceptional.
		// Roll the persisted row back to keep store and engine aligned.
		_, _ = s.store.DeleteJob(ctx, id)
		return mcp.NewToolResultError("failed to schedule reminder"), nil
	}

	s.auditLog(security.AuditEvent{
		Type:     security.EventJobAdd,
		Identity: ownerID,
		JobID:    id,
		Outcome:  "success",
		Detail:   "via mcp",
	})
	s.publish(event.TypeJobAdded, map[string]any{
		"job_id":   id,
		"owner_id": ownerID,
		"schedule": expr,
	})

	return jsonResult(s.jobToView(job))
}

// handleReminderRemove unschedules and deletes a reminder by id.
func (s *Server) handleReminderRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store not available"), nil
	}

	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	jobID := int64(id)

	unscheduled := false
	if s.engine != nil {
		unscheduled = s.engine.Remove(jobID)
	}
	removed, err := s.store.DeleteJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError("failed to delete reminder"), nil
	}
	if !removed && !unscheduled {
		return mcp.NewToolResultError(fmt.Sprintf("reminder %d not found", jobID)), nil
	}

	s.auditLog(security.AuditEvent{
		Type:    security.EventJobRemove,
		JobID:   jobID,
		Outcome: "success",
		Detail:  "via mcp",
	})
	s.publish(event.TypeJobRemoved, map[string]any{"job_id": jobID})

	return jsonResult(map[string]any{"id": jobID, "removed": true})
}

// handleReminderList returns persisted reminders, optionally filtered.
func (s *Server) handleReminderList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store not available"), nil
	}

	ownerID := strings.TrimSpace(req.GetString("owner_id", ""))

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return mcp.NewToolResultError("failed to list reminders"), nil
	}

	out := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		if ownerID != "" && job.OwnerID != ownerID {
			continue
		}
		out = append(out, s.jobToView(job))
	}
	return jsonResult(out)
}

// handleCredentialStatus reports credential metadata for one identity or
// for every stored identity when no id is given.
func (s *Server) handleCredentialStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store not available"), nil
	}

	identity := strings.TrimSpace(req.GetString("identity_id", ""))
	now := time.Now()

	if identity != "" {
		rec, err := s.store.Credential(ctx, identity)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("no credential stored for %q", identity)), nil
			}
			return mcp.NewToolResultError("failed to load credential"), nil
		}
		return jsonResult(credentialToView(rec, now))
	}

	recs, err := s.store.ListCredentials(ctx)
	if err != nil {
		return mcp.NewToolResultError("failed to list credentials"), nil
	}
	out := make([]credentialView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, credentialToView(rec, now))
	}
	return jsonResult(out)
}

// handleIdentityLink creates or replaces an identity link. The channel
// must name a registered sink; a typo here would silently swallow
// reminders.
func (s *Server) handleIdentityLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store not available"), nil
	}

	identity, err := req.RequireString("identity_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	channel, err := req.RequireString("channel")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	address, err := req.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	identity = strings.TrimSpace(identity)
	channel = strings.TrimSpace(channel)
	address = strings.TrimSpace(address)
	if identity == "" || channel == "" || address == "" {
		return mcp.NewToolResultError("identity_id, channel and address must not be empty"), nil
	}

	if s.dispatcher != nil {
		known := false
		for _, name := range s.dispatcher.Sinks() {
			if name == channel {
				known = true
				break
			}
		}
		if !known {
			return mcp.NewToolResultError(fmt.Sprintf("unknown sink %q, registered: %s",
				channel, strings.Join(s.dispatcher.Sinks(), ", "))), nil
		}
	}

	link := storage.IdentityLink{
		IdentityID: identity,
		Channel:    channel,
		Address:    address,
	}
	if err := s.store.SaveLink(ctx, link); err != nil {
		return mcp.NewToolResultError("failed to save link"), nil
	}

	s.auditLog(security.AuditEvent{
		Type:     security.EventConfigChange,
		Identity: identity,
		Outcome:  "success",
		Detail:   "identity link saved for " + channel + " via mcp",
	})

	return jsonResult(linkView{IdentityID: identity, Channel: channel, Address: address})
}
