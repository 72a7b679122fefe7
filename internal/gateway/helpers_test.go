package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/credential"
	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/notify"
	"github.com/flemzord/chime/internal/oauth"
	"github.com/flemzord/chime/internal/schedule"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/internal/telemetry"
)

// stubProvider satisfies oauth.Provider for manager wiring in tests.
type stubProvider struct {
	mu          sync.Mutex
	refreshed   int
	revoked     int
	refreshResp oauth.TokenResponse
	refreshErr  error
	revokeErr   error
}

var _ oauth.Provider = (*stubProvider)(nil)

func (p *stubProvider) Refresh(_ context.Context, _ string) (oauth.TokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed++
	if p.refreshErr != nil {
		return oauth.TokenResponse{}, p.refreshErr
	}
	return p.refreshResp, nil
}

func (p *stubProvider) Revoke(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked++
	return p.revokeErr
}

func (p *stubProvider) revokeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revoked
}

// stubSink satisfies notify.Notifier for link validation in tests.
type stubSink struct {
	name string
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Notify(_ context.Context, _ storage.IdentityLink, _ string) error {
	return nil
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

// doReq makes an HTTP request with an optional bearer token and body.
func doReq(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func doGet(t *testing.T, url string) *http.Response {
	t.Helper()
	return doReq(t, http.MethodGet, url, "", "")
}

func doGetWithBearer(t *testing.T, url, token string) *http.Response {
	t.Helper()
	return doReq(t, http.MethodGet, url, token, "")
}

// testEnv bundles the gateway with its collaborators for assertions.
type testEnv struct {
	gateway  *Gateway
	store    *storage.MemStore
	engine   *schedule.Engine
	manager  *credential.Manager
	provider *stubProvider
	bus      *event.Bus
	base     string
}

// newTestGateway builds a started gateway wired to in-memory collaborators.
func newTestGateway(t *testing.T, auth AuthConfig) *testEnv {
	t.Helper()
	return newTestGatewayWith(t, auth, nil)
}

// newTestGatewayWith applies mutate to the gateway before Start, for tests
// that need configPath or the reload hook wired in.
func newTestGatewayWith(t *testing.T, auth AuthConfig, mutate func(*Gateway)) *testEnv {
	t.Helper()

	addr := freeAddr(t)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	appCtx := core.NewAppContext(logger, t.TempDir())

	store := storage.NewMemStore()
	provider := &stubProvider{
		refreshResp: oauth.TokenResponse{AccessToken: "ya29.refreshed", ExpiresIn: 3600},
	}
	manager := credential.NewManager(credential.ManagerConfig{
		Store:    store,
		Provider: provider,
		Logger:   logger,
	})
	engine := schedule.NewEngine(schedule.EngineConfig{Logger: logger})
	bus := event.NewBus()

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := dispatcher.Register(&stubSink{name: "notify.telegram"}); err != nil {
		t.Fatalf("register sink: %v", err)
	}

	g := &Gateway{}
	g.config = Config{
		Bind:            addr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		Auth:            auth,
	}
	g.appCtx = appCtx
	g.logger = logger
	g.store = store
	g.manager = manager
	g.engine = engine
	g.dispatcher = dispatcher
	g.metrics = telemetry.NewMetrics()
	g.bus = bus

	if mutate != nil {
		mutate(g)
	}

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = g.Stop(context.Background()) })

	return &testEnv{
		gateway:  g,
		store:    store,
		engine:   engine,
		manager:  manager,
		provider: provider,
		bus:      bus,
		base:     "http://" + addr,
	}
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
