package security

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

// Audit event types covering credential lifecycle, scheduler mutations,
// and gateway authentication.
const (
	EventRefresh      EventType = "credential_refresh"
	EventRevoke       EventType = "credential_revoke"
	EventDelete       EventType = "credential_delete"
	EventImport       EventType = "credential_import"
	EventJobAdd       EventType = "job_add"
	EventJobRemove    EventType = "job_remove"
	EventAuthSuccess  EventType = "auth_success"
	EventAuthFailure  EventType = "auth_failure"
	EventConfigChange EventType = "config_change"
)

// AuditEvent is a single audit log entry. Identity and timing metadata only:
// token material never belongs in an audit event, and the redactor scrubs
// Detail and Metadata as a backstop.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventID   string            `json:"event_id"`
	Type      EventType         `json:"type"`
	Identity  string            `json:"identity,omitempty"`
	JobID     int64             `json:"job_id,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLoggerConfig configures the audit logger.
type AuditLoggerConfig struct {
	// Writer is the destination for JSONL output. If nil, events are only
	// dispatched to OnEvent (useful for testing).
	Writer io.Writer

	// Redactor, if non-nil, is applied to Detail and Metadata values before writing.
	Redactor *Redactor

	// OnEvent, if non-nil, is called for every event (used in tests).
	OnEvent func(AuditEvent)

	// Now overrides time.Now for testing. Defaults to time.Now.
	Now func() time.Time
}

// AuditLogger writes structured audit events as JSONL with optional redaction.
type AuditLogger struct {
	writer      io.Writer
	redactor    *Redactor
	onEvent     func(AuditEvent)
	now         func() time.Time
	mu          sync.Mutex
	writeErrors atomic.Int64
}

// NewAuditLogger creates an audit logger with the given configuration.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AuditLogger{
		writer:   cfg.Writer,
		redactor: cfg.Redactor,
		onEvent:  cfg.OnEvent,
		now:      now,
	}
}

// Log writes an audit event. The timestamp and event id are set
// automatically. If a Redactor is configured, Detail and Metadata values
// are redacted. The caller's Metadata map is never mutated; a copy is made
// if redaction or serialization is needed.
func (l *AuditLogger) Log(event AuditEvent) {
	event.Timestamp = l.now()
	event.EventID = uuid.NewString()

	// Copy metadata to avoid mutating the caller's map.
	if len(event.Metadata) > 0 {
		cp := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			cp[k] = v
		}
		event.Metadata = cp
	}

	// Redact sensitive fields.
	if l.redactor != nil {
		event.Detail = l.redactor.Redact(event.Detail)
		for k, v := range event.Metadata {
			event.Metadata[k] = l.redactor.Redact(v)
		}
	}

	// Dispatch to test callback and write JSONL under the same lock
	// to ensure ordering consistency and protect the onEvent callback.
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.onEvent != nil {
		l.onEvent(event)
	}

	if l.writer != nil {
		if err := json.NewEncoder(l.writer).Encode(event); err != nil {
			l.writeErrors.Add(1)
		}
	}
}

// WriteErrors reports how many events failed to serialize or write. Exposed
// so operators can detect a broken audit destination from the status endpoint.
func (l *AuditLogger) WriteErrors() int64 {
	return l.writeErrors.Load()
}
