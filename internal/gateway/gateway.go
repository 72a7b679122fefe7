// Package gateway provides the HTTP surface for administration and
// monitoring: job and credential management, identity links, health,
// status, Prometheus metrics, and a WebSocket event stream. It binds to
// loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/credential"
	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/notify"
	"github.com/flemzord/chime/internal/schedule"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/internal/telemetry"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Gateway is the HTTP gateway module. It is a leaf module; nothing
// imports it. Collaborators are resolved lazily from the service
// registry at Start, so the gateway degrades gracefully when a
// subsystem is not wired.
type Gateway struct {
	config     Config
	configPath string
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time

	// Resolved lazily at Start() via service registry.
	store      storage.Store
	manager    *credential.Manager
	engine     *schedule.Engine
	dispatcher *notify.Dispatcher
	metrics    *telemetry.Metrics
	bus        *event.Bus
	audit      *security.AuditLogger
	limiter    *security.RateLimiter
	redactor   *security.Redactor
	applier    configApplier
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	g.resolveServices()
	g.startedAt = time.Now()

	mux := g.buildRouter()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      mux,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolveServices binds optional collaborators from the service registry.
// Missing services leave the corresponding endpoints degraded, not broken.
func (g *Gateway) resolveServices() {
	if svc, ok := g.appCtx.Service("storage.store"); ok {
		if store, ok := svc.(storage.Store); ok {
			g.store = store
		}
	}
	if svc, ok := g.appCtx.Service("credential.manager"); ok {
		if mgr, ok := svc.(*credential.Manager); ok {
			g.manager = mgr
		}
	}
	if svc, ok := g.appCtx.Service("schedule.engine"); ok {
		if eng, ok := svc.(*schedule.Engine); ok {
			g.engine = eng
		}
	}
	if svc, ok := g.appCtx.Service("notify.dispatcher"); ok {
		if d, ok := svc.(*notify.Dispatcher); ok {
			g.dispatcher = d
		}
	}
	if svc, ok := g.appCtx.Service("telemetry.metrics"); ok {
		if m, ok := svc.(*telemetry.Metrics); ok {
			g.metrics = m
		}
	}
	if svc, ok := g.appCtx.Service("event.bus"); ok {
		if b, ok := svc.(*event.Bus); ok {
			g.bus = b
		}
	}
	if svc, ok := g.appCtx.Service("security.audit"); ok {
		if a, ok := svc.(*security.AuditLogger); ok {
			g.audit = a
		}
	}
	if svc, ok := g.appCtx.Service("security.ratelimit"); ok {
		if rl, ok := svc.(*security.RateLimiter); ok {
			g.limiter = rl
		}
	}
	if svc, ok := g.appCtx.Service("security.redactor"); ok {
		if r, ok := svc.(*security.Redactor); ok {
			g.redactor = r
		}
	}
	if svc, ok := g.appCtx.Service("config.path"); ok {
		if p, ok := svc.(string); ok {
			g.configPath = p
		}
	}
	if svc, ok := g.appCtx.Service("reload.handler"); ok {
		if a, ok := svc.(configApplier); ok {
			g.applier = a
		}
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
