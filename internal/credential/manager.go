package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/oauth"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/internal/telemetry"
)

// Status classifies the outcome of a GetValid call.
type Status int

const (
	// StatusAbsent means no usable credential exists; the caller should
	// prompt re-authentication.
	StatusAbsent Status = iota

	// StatusValid means a fresh, possibly just-refreshed record was returned.
	StatusValid

	// StatusStale means the refresh failed while the old record was inside
	// the lookahead window but not yet expired, and the old record was
	// returned best-effort.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusStale:
		return "stale"
	default:
		return "absent"
	}
}

// Result is the explicit outcome of GetValid: a status plus the record when
// one is usable.
type Result struct {
	Status Status
	Record storage.CredentialRecord
}

// Found reports whether a usable record is present (valid or stale).
func (r Result) Found() bool {
	return r.Status != StatusAbsent
}

// ManagerConfig configures a Manager. Store and Provider are required;
// everything else may be left zero.
type ManagerConfig struct {
	Store    storage.Store
	Provider oauth.Provider
	Policy   Policy
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Audit    *security.AuditLogger
	Bus      *event.Bus
}

// Manager orchestrates validator and refresher behind a single entry point
// and owns the revoke and delete semantics. Safe for concurrent use;
// records are never cached across operations, every call re-fetches from
// the store.
type Manager struct {
	store     storage.Store
	provider  oauth.Provider
	refresher *Refresher
	policy    Policy
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	audit     *security.AuditLogger
	bus       *event.Bus
	group     *singleflight.Group
	now       func() time.Time
}

// NewManager creates a Manager from cfg. A zero Policy means DefaultPolicy.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	m := &Manager{
		store:     cfg.Store,
		provider:  cfg.Provider,
		refresher: NewRefresher(cfg.Store, cfg.Provider, policy, logger),
		policy:    policy,
		logger:    logger,
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
		bus:       cfg.Bus,
		now:       time.Now,
	}
	if policy.SingleFlight {
		m.group = &singleflight.Group{}
	}
	return m
}

// GetValid returns a currently usable credential for the identity.
//
// An expiry inside the lookahead window (including already past) triggers
// one refresh attempt. When the refresh fails, an already-expired record
// reports absent; a record that was merely expiring soon is returned stale
// if the policy allows it. A record without any expiry is returned as-is
// with a warning and no refresh attempt. The returned error is reserved
// for storage failures; provider failures are folded into the Result.
func (m *Manager) GetValid(ctx context.Context, identityID string) (Result, error) {
	rec, err := m.store.Credential(ctx, identityID)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("no stored credential", "identity_id", identityID)
		return Result{Status: StatusAbsent}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("credential: fetch %q: %w", identityID, err)
	}

	now := m.now()

	if !rec.HasExpiry() {
		m.logger.Warn("credential has no expiry, assuming valid",
			"identity_id", identityID)
		return Result{Status: StatusValid, Record: rec}, nil
	}

	if !NeedsRenewal(rec, now, m.policy.Lookahead) {
		return Result{Status: StatusValid, Record: rec}, nil
	}

	refreshed, refreshErr := m.refresh(ctx, identityID, rec)
	if refreshErr == nil {
		m.metrics.RefreshOutcome(telemetry.OutcomeSuccess)
		m.auditLog(security.AuditEvent{
			Type:     security.EventRefresh,
			Identity: identityID,
			Outcome:  "success",
		})
		m.bus.Publish(event.Event{
			Type: event.TypeCredentialRefreshed,
			Data: map[string]any{"identity_id": identityID},
		})
		return Result{Status: StatusValid, Record: refreshed}, nil
	}

	outcome := telemetry.OutcomeFailed
	if errors.Is(refreshErr, oauth.ErrNoRefreshToken) {
		outcome = telemetry.OutcomeNoRefreshToken
	}

	if !IsValid(rec, now) {
		// Definitively expired and unrefreshable: authentication required.
		m.metrics.RefreshOutcome(outcome)
		m.logger.Warn("refresh failed for expired credential",
			"identity_id", identityID,
			"error", refreshErr)
		m.auditLog(security.AuditEvent{
			Type:     security.EventRefresh,
			Identity: identityID,
			Outcome:  "failed",
			Detail:   refreshErr.Error(),
		})
		return Result{Status: StatusAbsent}, nil
	}

	if m.policy.StaleFallback {
		m.metrics.RefreshOutcome(telemetry.OutcomeStaleFallback)
		m.logger.Warn("refresh failed, serving stale credential until expiry",
			"identity_id", identityID,
			"expires_at", rec.Expiry(),
			"error", refreshErr)
		m.auditLog(security.AuditEvent{
			Type:     security.EventRefresh,
			Identity: identityID,
			Outcome:  "stale_fallback",
			Detail:   refreshErr.Error(),
		})
		return Result{Status: StatusStale, Record: rec}, nil
	}

	m.metrics.RefreshOutcome(outcome)
	m.logger.Warn("refresh failed inside lookahead, stale fallback disabled",
		"identity_id", identityID,
		"error", refreshErr)
	m.auditLog(security.AuditEvent{
		Type:     security.EventRefresh,
		Identity: identityID,
		Outcome:  "failed",
		Detail:   refreshErr.Error(),
	})
	return Result{Status: StatusAbsent}, nil
}

// refresh runs the renewal, collapsing concurrent calls per identity when
// single-flight mode is on.
func (m *Manager) refresh(ctx context.Context, identityID string, rec storage.CredentialRecord) (storage.CredentialRecord, error) {
	if m.group == nil {
		return m.refresher.Refresh(ctx, rec)
	}
	v, err, _ := m.group.Do(identityID, func() (any, error) {
		return m.refresher.Refresh(ctx, rec)
	})
	if err != nil {
		return storage.CredentialRecord{}, err
	}
	return v.(storage.CredentialRecord), nil
}

// Revoke makes a best-effort call to the provider's revocation endpoint and
// reports whether it succeeded. Failures are logged, never raised, so they
// can never block local deletion. A record without an access token reports
// false with no network call.
func (m *Manager) Revoke(ctx context.Context, rec storage.CredentialRecord) bool {
	if rec.AccessToken == "" {
		m.logger.Warn("revoke skipped, record has no access token",
			"identity_id", rec.IdentityID)
		return false
	}

	ctx, span := telemetry.StartSpan(ctx, "credential.revoke",
		attribute.String("identity_id", rec.IdentityID))
	defer span.End()

	if err := m.provider.Revoke(ctx, rec.AccessToken); err != nil {
		span.RecordError(err)
		m.metrics.RevokeOutcome(false)
		m.logger.Warn("revoke failed",
			"identity_id", rec.IdentityID,
			"error", err)
		m.auditLog(security.AuditEvent{
			Type:     security.EventRevoke,
			Identity: rec.IdentityID,
			Outcome:  "failed",
			Detail:   err.Error(),
		})
		return false
	}

	m.metrics.RevokeOutcome(true)
	m.logger.Info("credential revoked", "identity_id", rec.IdentityID)
	m.auditLog(security.AuditEvent{
		Type:     security.EventRevoke,
		Identity: rec.IdentityID,
		Outcome:  "success",
	})
	return true
}

// Delete revokes best-effort, then unconditionally removes the local record
// regardless of the revoke outcome. The bool reports whether a record
// existed. Deleting an unknown identity performs no revoke call.
func (m *Manager) Delete(ctx context.Context, identityID string) (bool, error) {
	rec, err := m.store.Credential(ctx, identityID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credential: fetch %q for delete: %w", identityID, err)
	}

	m.Revoke(ctx, rec)

	existed, err := m.store.DeleteCredential(ctx, identityID)
	if err != nil {
		return false, fmt.Errorf("credential: delete %q: %w", identityID, err)
	}

	m.logger.Info("credential deleted", "identity_id", identityID)
	m.auditLog(security.AuditEvent{
		Type:     security.EventDelete,
		Identity: identityID,
		Outcome:  "success",
	})
	m.bus.Publish(event.Event{
		Type: event.TypeCredentialDeleted,
		Data: map[string]any{"identity_id": identityID},
	})
	return existed, nil
}

// Import stores an externally obtained credential record, replacing any
// existing record for the identity.
func (m *Manager) Import(ctx context.Context, rec storage.CredentialRecord) error {
	if rec.IdentityID == "" {
		return errors.New("credential: import: identity_id is required")
	}
	if rec.AccessToken == "" {
		return fmt.Errorf("credential: import %q: access_token is required", rec.IdentityID)
	}
	if !rec.HasRefreshToken() {
		m.logger.Warn("imported credential has no refresh token and can never be renewed",
			"identity_id", rec.IdentityID)
	}

	if err := m.store.SaveCredential(ctx, rec); err != nil {
		return fmt.Errorf("credential: import %q: %w", rec.IdentityID, err)
	}

	m.logger.Info("credential imported",
		"identity_id", rec.IdentityID,
		"has_refresh_token", rec.HasRefreshToken(),
		"has_expiry", rec.HasExpiry())
	m.auditLog(security.AuditEvent{
		Type:     security.EventImport,
		Identity: rec.IdentityID,
		Outcome:  "success",
	})
	return nil
}

func (m *Manager) auditLog(e security.AuditEvent) {
	if m.audit != nil {
		m.audit.Log(e)
	}
}
