// Package mcp exposes reminder and credential operations as MCP tools
// over streamable HTTP, so an external agent can drive the scheduler
// without linking it in-process. The tool surface mirrors the admin API:
// writes go through the same validate-persist-schedule path and the same
// audit trail, and credential tools return metadata only.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/credential"
	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/notify"
	"github.com/flemzord/chime/internal/schedule"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
)

const (
	serverName    = "chime"
	serverVersion = "1.0.0"
)

func init() {
	core.RegisterModule(&Server{})
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Server)(nil)
	_ core.Configurable = (*Server)(nil)
	_ core.Provisioner  = (*Server)(nil)
	_ core.Validator    = (*Server)(nil)
	_ core.Starter      = (*Server)(nil)
	_ core.Stopper      = (*Server)(nil)
)

// Server is the MCP tool server module. Like the gateway it is a leaf:
// collaborators are resolved from the service registry at Start, and a
// missing subsystem degrades the affected tools instead of the module.
type Server struct {
	config Config
	appCtx *core.AppContext
	logger *slog.Logger

	mcpServer  *server.MCPServer
	httpServer *http.Server

	// Resolved lazily at Start() via service registry.
	store      storage.Store
	manager    *credential.Manager
	engine     *schedule.Engine
	dispatcher *notify.Dispatcher
	bus        *event.Bus
	audit      *security.AuditLogger
}

// ModuleInfo implements core.Module.
func (s *Server) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "mcp.server",
		New: func() core.Module { return &Server{} },
	}
}

// Configure implements core.Configurable.
func (s *Server) Configure(node *yaml.Node) error {
	if err := node.Decode(&s.config); err != nil {
		return err
	}
	s.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (s *Server) Provision(ctx *core.AppContext) error {
	s.appCtx = ctx
	s.logger = ctx.Logger
	return nil
}

// Validate implements core.Validator.
func (s *Server) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", s.config.Bind); err != nil {
		return errors.New("mcp: invalid bind address: " + s.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies, builds the
// tool surface and starts serving the streamable HTTP transport.
func (s *Server) Start() error {
	s.resolveServices()

	s.mcpServer = server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s.mcpServer))

	s.httpServer = &http.Server{
		Addr:         s.config.Bind,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.config.Bind)
	if err != nil {
		return errors.New("mcp: listen failed: " + err.Error())
	}

	go func() {
		s.logger.Info("mcp server listening", "addr", s.config.Bind)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("mcp serve error", "error", err)
		}
	}()

	return nil
}

// resolveServices binds optional collaborators from the service registry.
// Tools whose subsystem is missing answer with a tool error, not a crash.
func (s *Server) resolveServices() {
	if svc, ok := s.appCtx.Service("storage.store"); ok {
		if store, ok := svc.(storage.Store); ok {
			s.store = store
		}
	}
	if svc, ok := s.appCtx.Service("credential.manager"); ok {
		if mgr, ok := svc.(*credential.Manager); ok {
			s.manager = mgr
		}
	}
	if svc, ok := s.appCtx.Service("schedule.engine"); ok {
		if eng, ok := svc.(*schedule.Engine); ok {
			s.engine = eng
		}
	}
	if svc, ok := s.appCtx.Service("notify.dispatcher"); ok {
		if d, ok := svc.(*notify.Dispatcher); ok {
			s.dispatcher = d
		}
	}
	if svc, ok := s.appCtx.Service("event.bus"); ok {
		if b, ok := svc.(*event.Bus); ok {
			s.bus = b
		}
	}
	if svc, ok := s.appCtx.Service("security.audit"); ok {
		if a, ok := svc.(*security.AuditLogger); ok {
			s.audit = a
		}
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("mcp server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// auditLog records an event when the audit logger is wired.
func (s *Server) auditLog(e security.AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Log(e)
}

// publish forwards an event when the bus is wired.
func (s *Server) publish(eventType string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{Type: eventType, Data: data})
}
