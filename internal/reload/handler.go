package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/chime/internal/config"
	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/security"
)

// Handler turns a reload request into module Reload calls. Both reload
// triggers (SIGHUP / the file watcher, and the admin API) funnel through
// one Handler so they cannot drift apart in behavior.
type Handler struct {
	app    *core.App
	appCtx *core.AppContext
	logger *slog.Logger
}

// NewHandler binds a handler to the running app. It retains the live
// AppContext: reload contexts are derived from it, so modules being
// reloaded still see every service registered at startup. A context
// built from scratch here would hand them an empty registry.
func NewHandler(app *core.App, appCtx *core.AppContext, logger *slog.Logger) *Handler {
	return &Handler{
		app:    app,
		appCtx: appCtx,
		logger: logger,
	}
}

// HandleReload re-reads the config file at configPath and, if it parses
// and validates, applies it to every module implementing core.Reloader.
// A broken file means no module sees any change.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.apply(ctx, cfg)
}

// HandleReloadFromConfig applies an already-loaded config. Used by the
// admin API, which validates the file itself so it can report parse
// errors in the HTTP response. No re-validation happens here.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	return h.apply(ctx, cfg)
}

func (h *Handler) apply(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	// Derive from the live context so the shared service registry
	// carries over; only the per-module config sections change.
	appCtx := h.appCtx.WithModuleConfigs(cfg.Modules)

	if err := h.app.ReloadModules(appCtx); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}

	h.resyncRedactor()

	h.logger.Info("configuration reloaded successfully")
	return nil
}

// resyncRedactor refreshes the log redactor's literal set after a
// reload. Reloader modules may deposit fresh secrets (a rotated bot
// token, a swapped client secret) that must be masked from that point
// on. Both services are optional.
func (h *Handler) resyncRedactor() {
	rsvc, ok := h.appCtx.Service("security.redactor")
	if !ok {
		return
	}
	ssvc, ok := h.appCtx.Service("security.secrets")
	if !ok {
		return
	}
	redactor, rok := rsvc.(*security.Redactor)
	store, sok := ssvc.(*security.SecretStore)
	if rok && sok {
		redactor.SyncSecrets(store)
	}
}
