// Package app provides the shared entry point for the chime binary.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flemzord/chime/internal/config"
	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/reload"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the persistent data directory. Takes precedence
	// over the config file's data_dir.
	DataDir string

	// Shutdown, when non-nil, triggers a graceful stop when closed. Used
	// by the service wrapper, which has no signal to send. Nil keeps the
	// loop signal-only.
	Shutdown <-chan struct{}
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received. SIGHUP and file-change events trigger a live
// configuration reload for modules that implement core.Reloader.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Security foundation first: every log line from here on passes
	// through the redactor, so tokens deposited later never print.
	secrets := security.NewSecretStore()
	redactor := security.NewRedactor()
	logger := buildLogger(cfg.Log, redactor)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	auditFile, err := os.OpenFile(filepath.Join(dataDir, "audit.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditFile.Close()
	auditLogger := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   auditFile,
		Redactor: redactor,
	})

	var rateLimiter *security.RateLimiter
	if cfg.Security != nil {
		rateLimiter = security.NewRateLimiter(cfg.Security.RateLimits)
	} else {
		rateLimiter = security.NewRateLimiter(security.RateLimitConfig{})
	}

	tracingShutdown, err := telemetry.SetupTracing(context.Background(), cfg.Telemetry.Tracing)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(ctx); err != nil {
			logger.Warn("trace exporter shutdown", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	bus := event.NewBus()

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	// Register shared services for cross-module discovery.
	appCtx.RegisterService("security.secrets", secrets)
	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("security.audit", auditLogger)
	appCtx.RegisterService("security.ratelimit", rateLimiter)
	appCtx.RegisterService("telemetry.metrics", metrics)
	appCtx.RegisterService("event.bus", bus)
	appCtx.RegisterService("config.path", cfgPath)

	logger.Info("chime starting",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
		"data_dir", dataDir,
	)

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	// Wire the app-owned core between LoadModules and Start: the storage
	// and provider modules have registered their services by now, and the
	// sinks and surfaces resolve the manager, engine, and dispatcher in
	// their own Start.
	if err := wireCore(application, appCtx, cfg, logger, coreServices{
		metrics: metrics,
		bus:     bus,
		audit:   auditLogger,
		limiter: rateLimiter,
	}); err != nil {
		return err
	}

	// Build and register the reload handler BEFORE Start so the gateway
	// can resolve it; SIGHUP, the file watcher, and the admin endpoint
	// all apply config through this one handler.
	handler := reload.NewHandler(application, appCtx, logger)
	appCtx.RegisterService("reload.handler", handler)

	if err := application.Start(); err != nil {
		return err
	}

	// Modules deposit their secrets during Provision and Start; sync them
	// into the redactor so they are masked from logs going forward.
	redactor.SyncSecrets(secrets)

	logger.Info("chime started", "modules", len(ids))

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	rd := reloadDeps{
		logger:  logger,
		handler: handler,
		audit:   auditLogger,
		cfgPath: cfgPath,
	}
	var watchEvents <-chan reload.Event
	watcher, err := reload.NewWatcher(reload.WatcherConfig{
		ConfigPath: cfgPath,
		Logger:     logger,
	})
	if err != nil {
		logger.Warn("config file watch unavailable, reload limited to SIGHUP", "error", err)
	} else {
		watchCtx, watchCancel := context.WithCancel(context.Background())
		defer watchCancel()
		watcher.Start(watchCtx)
		defer watcher.Stop()
		watchEvents = watcher.Events()
	}

	// --- main event loop ---
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("SIGHUP received, reloading configuration")
				rd.apply(context.Background(), "sighup")
			default:
				logger.Info("shutdown signal received", "signal", sig.String())
				application.Stop()
				logger.Info("shutdown complete")
				return nil
			}
		case evt := <-watchEvents:
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			rd.apply(context.Background(), "file watch")
		case <-params.Shutdown:
			logger.Info("shutdown requested")
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		}
	}
}

// reloadDeps bundles what the reload triggers need; both the SIGHUP and
// file-watch paths run the same steps.
type reloadDeps struct {
	logger  *slog.Logger
	handler *reload.Handler
	audit   *security.AuditLogger
	cfgPath string
}

// apply re-reads the config, reloads supporting modules, and records the
// outcome in the audit trail. Failures leave the running config in place.
func (d reloadDeps) apply(ctx context.Context, trigger string) {
	if err := d.handler.HandleReload(ctx, d.cfgPath); err != nil {
		d.logger.Error("reload failed", "trigger", trigger, "error", err)
		d.audit.Log(security.AuditEvent{
			Type:    security.EventConfigChange,
			Outcome: "failure",
			Detail:  "reload via " + trigger,
		})
		return
	}
	d.audit.Log(security.AuditEvent{
		Type:    security.EventConfigChange,
		Outcome: "success",
		Detail:  "reload via " + trigger,
	})
}

func buildLogger(cfg config.LogConfig, redactor *security.Redactor) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/chime/chime.yaml → ~/.config/chime/chime.yaml → ./chime.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "chime", "chime.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chime", "chime.yaml"))
	}

	candidates = append(candidates, "chime.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/chime if set, otherwise ~/.local/share/chime per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "chime")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "chime")
}
