package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/chime/internal/config"
	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/credential"
	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/notify"
	"github.com/flemzord/chime/internal/oauth"
	"github.com/flemzord/chime/internal/schedule"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/internal/telemetry"
)

// deliverTimeout bounds a single reminder delivery across all sinks.
const deliverTimeout = 30 * time.Second

// coreServices carries the app-owned shared services into wireCore.
type coreServices struct {
	metrics *telemetry.Metrics
	bus     *event.Bus
	audit   *security.AuditLogger
	limiter *security.RateLimiter
}

// engineModule wraps the scheduler engine to satisfy core.Module,
// core.Starter, and core.Stopper, so the engine participates in the App
// lifecycle. It is appended after the loaded modules, which means it
// starts last (sinks have registered by then) and stops first (in-flight
// deliveries drain before the sinks go away).
type engineModule struct {
	engine *schedule.Engine
	store  storage.Store
}

func (m *engineModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "schedule.engine"}
}

func (m *engineModule) Start() error {
	return m.engine.Start(context.Background(), m.store.ListJobs)
}

func (m *engineModule) Stop(_ context.Context) error {
	m.engine.Stop()
	return nil
}

// wireCore builds the credential manager, the scheduler engine, and the
// notification dispatcher from whatever the loaded modules registered,
// connects fired reminders to delivery, and appends the engine to the app
// lifecycle. Must be called after LoadModules and before Start.
func wireCore(
	app *core.App,
	appCtx *core.AppContext,
	cfg *config.Config,
	logger *slog.Logger,
	services coreServices,
) error {
	// Storage comes from the configured storage module. Without one the
	// process still runs, on a store that forgets everything at exit.
	var store storage.Store
	if svc, ok := appCtx.Service("storage.store"); ok {
		store, _ = svc.(storage.Store)
	}
	if store == nil {
		logger.Warn("no storage module configured, using non-durable in-memory store")
		store = storage.NewMemStore()
		appCtx.RegisterService("storage.store", store)
	}

	// The OAuth provider is optional. Without one, credentials can still
	// be imported and inspected but never refreshed or revoked.
	var provider oauth.Provider
	if svc, ok := appCtx.Service("oauth.provider"); ok {
		provider, _ = svc.(oauth.Provider)
	}

	if provider != nil {
		manager := credential.NewManager(credential.ManagerConfig{
			Store:    store,
			Provider: provider,
			Policy:   credentialPolicy(cfg.Credentials),
			Logger:   logger,
			Metrics:  services.metrics,
			Audit:    services.audit,
			Bus:      services.bus,
		})
		appCtx.RegisterService("credential.manager", manager)
	} else {
		logger.Warn("no oauth provider module configured, credential lifecycle disabled")
	}

	loc := time.Local
	if tz := cfg.Scheduler.Timezone; tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("loading scheduler timezone %q: %w", tz, err)
		}
		loc = parsed
	}

	engine := schedule.NewEngine(schedule.EngineConfig{
		Logger:   logger,
		Metrics:  services.metrics,
		Bus:      services.bus,
		Location: loc,
	})
	appCtx.RegisterService("schedule.engine", engine)

	var quiet *notify.QuietHours
	if cfg.Notify.QuietHours != "" {
		parsed, err := notify.ParseQuietHours(cfg.Notify.QuietHours)
		if err != nil {
			return fmt.Errorf("parsing notify quiet hours: %w", err)
		}
		quiet = &parsed
	}

	// Quiet hours share the scheduler's location so "22:00" means the
	// same wall clock in both.
	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Store:    store,
		Limiter:  services.limiter,
		Metrics:  services.metrics,
		Bus:      services.bus,
		Logger:   logger,
		Quiet:    quiet,
		Timezone: loc,
	})
	if err != nil {
		return fmt.Errorf("creating notify dispatcher: %w", err)
	}
	appCtx.RegisterService("notify.dispatcher", dispatcher)

	// Fired reminders flow engine → dispatcher.
	engine.SetCallback(func(ownerID, payload string) error {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()
		return dispatcher.Deliver(ctx, ownerID, payload)
	})

	app.AppendModule("schedule.engine", &engineModule{
		engine: engine,
		store:  store,
	})

	logger.Info("core wired",
		"credential_manager", provider != nil,
		"quiet_hours", quiet != nil,
		"timezone", loc.String(),
	)
	return nil
}

// credentialPolicy maps the config section onto the manager's policy,
// keeping the built-in defaults for unset fields.
func credentialPolicy(c config.CredentialsConfig) credential.Policy {
	policy := credential.DefaultPolicy()
	if c.Lookahead > 0 {
		policy.Lookahead = c.Lookahead
	}
	if c.StaleFallback != nil {
		policy.StaleFallback = *c.StaleFallback
	}
	if c.DefaultLifetime > 0 {
		policy.DefaultLifetime = c.DefaultLifetime
	}
	policy.SingleFlight = c.SingleFlight
	return policy
}
