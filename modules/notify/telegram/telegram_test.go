package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/notify"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
	"gopkg.in/yaml.v3"
)

// sentMessages records every sendMessage body the fake Bot API receives.
type sentMessages struct {
	mu   sync.Mutex
	msgs []SendMessageRequest
}

func (s *sentMessages) add(req SendMessageRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, req)
}

func (s *sentMessages) all() []SendMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SendMessageRequest(nil), s.msgs...)
}

// newBotServer fakes the Bot API: getMe authenticates, sendMessage records
// into sent and answers ok.
func newBotServer(t *testing.T, sent *sentMessages) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			writeJSON(t, w, APIResponse[User]{
				OK:     true,
				Result: User{ID: 1, IsBot: true, Username: "chime_bot"},
			})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			body, _ := io.ReadAll(r.Body)
			var req SendMessageRequest
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("unmarshal sendMessage: %v", err)
			}
			sent.add(req)
			writeJSON(t, w, APIResponse[Message]{OK: true, Result: Message{MessageID: len(sent.all())}})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSink(t *testing.T, cfg Config) *Telegram {
	t.Helper()
	cfg.defaults()

	tg := &Telegram{logger: slog.Default()}
	tg.apply(cfg)
	return tg
}

func testLink(address string) storage.IdentityLink {
	return storage.IdentityLink{IdentityID: "alice", Channel: "notify.telegram", Address: address}
}

func TestModuleInfo(t *testing.T) {
	tg := &Telegram{}
	info := tg.ModuleInfo()

	if info.ID != "notify.telegram" {
		t.Errorf("expected ID notify.telegram, got %s", info.ID)
	}
	if info.New == nil {
		t.Fatal("New function must not be nil")
	}
	if _, ok := info.New().(*Telegram); !ok {
		t.Error("New() did not return a *Telegram")
	}
}

func TestName(t *testing.T) {
	tg := &Telegram{}
	if tg.Name() != "notify.telegram" {
		t.Errorf("Name() = %q, want notify.telegram", tg.Name())
	}
}

func TestConfigureAppliesDefaults(t *testing.T) {
	tg := &Telegram{}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("token: \"123:abc\"\n"), &node); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if err := tg.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}

	if tg.config.Token != "123:abc" {
		t.Errorf("token = %q, want 123:abc", tg.config.Token)
	}
	if tg.config.APIURL != "https://api.telegram.org" {
		t.Errorf("api_url = %q, want default", tg.config.APIURL)
	}
	if tg.config.RatePerSec != 3 {
		t.Errorf("rate_per_sec = %d, want 3", tg.config.RatePerSec)
	}
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	tg := &Telegram{}
	tg.config.defaults()
	if err := tg.Validate(); err == nil {
		t.Error("expected error for empty token, got nil")
	}
}

func TestValidateRejectsBadTokenFormat(t *testing.T) {
	tg := &Telegram{config: Config{Token: "not-a-bot-token"}}
	tg.config.defaults()
	if err := tg.Validate(); err == nil {
		t.Error("expected error for malformed token, got nil")
	}
}

func TestProvisionDepositsToken(t *testing.T) {
	var sent sentMessages
	srv := newBotServer(t, &sent)

	tg := &Telegram{config: Config{Token: "123:abc", APIURL: srv.URL}}
	tg.config.defaults()

	ctx := core.NewAppContext(slog.Default(), t.TempDir())
	secrets := security.NewSecretStore()
	ctx.RegisterService("security.secrets", secrets)

	if err := tg.Provision(ctx); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	got, ok := secrets.Get("telegram.token")
	if !ok || got != "123:abc" {
		t.Errorf("secret store token = %q, %v; want 123:abc, true", got, ok)
	}
}

func TestStartRegistersWithDispatcher(t *testing.T) {
	var sent sentMessages
	srv := newBotServer(t, &sent)

	tg := newTestSink(t, Config{Token: "123:abc", APIURL: srv.URL})

	ctx := core.NewAppContext(slog.Default(), t.TempDir())
	d, err := notify.NewDispatcher(notify.DispatcherConfig{
		Store:  storage.NewMemStore(),
		Logger: slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	ctx.RegisterService("notify.dispatcher", d)
	tg.appCtx = ctx

	if err := tg.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	sinks := d.Sinks()
	if len(sinks) != 1 || sinks[0] != "notify.telegram" {
		t.Errorf("dispatcher sinks = %v, want [notify.telegram]", sinks)
	}
}

func TestStartFailsWithoutDispatcher(t *testing.T) {
	var sent sentMessages
	srv := newBotServer(t, &sent)

	tg := newTestSink(t, Config{Token: "123:abc", APIURL: srv.URL})
	tg.appCtx = core.NewAppContext(slog.Default(), t.TempDir())

	if err := tg.Start(); err == nil {
		t.Error("expected error when dispatcher service is missing, got nil")
	}
}

func TestStartFailsOnBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(t, w, APIResponse[json.RawMessage]{
			OK:          false,
			ErrorCode:   401,
			Description: "Unauthorized",
		})
	}))
	t.Cleanup(srv.Close)

	tg := newTestSink(t, Config{Token: "123:abc", APIURL: srv.URL})
	tg.appCtx = core.NewAppContext(slog.Default(), t.TempDir())

	if err := tg.Start(); err == nil {
		t.Error("expected error for rejected token, got nil")
	}
}

func TestNotifySendsToLinkedChat(t *testing.T) {
	var sent sentMessages
	srv := newBotServer(t, &sent)

	tg := newTestSink(t, Config{Token: "123:abc", APIURL: srv.URL, RatePerSec: 30})

	if err := tg.Notify(context.Background(), testLink("4242"), "reminder text"); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	msgs := sent.all()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].ChatID != 4242 {
		t.Errorf("ChatID = %d, want 4242", msgs[0].ChatID)
	}
	if msgs[0].Text != "reminder text" {
		t.Errorf("Text = %q, want reminder text", msgs[0].Text)
	}
}

func TestNotifySplitsLongPayload(t *testing.T) {
	var sent sentMessages
	srv := newBotServer(t, &sent)

	tg := newTestSink(t, Config{
		Token:            "123:abc",
		APIURL:           srv.URL,
		MaxMessageLength: 20,
		RatePerSec:       30,
	})

	payload := "aaaaaaaaaa\nbbbbbbbbbb\ncccccccccc"
	if err := tg.Notify(context.Background(), testLink("7"), payload); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	msgs := sent.all()
	if len(msgs) < 2 {
		t.Fatalf("sent %d messages, want at least 2", len(msgs))
	}
	var parts []string
	for _, m := range msgs {
		if m.ChatID != 7 {
			t.Errorf("ChatID = %d, want 7", m.ChatID)
		}
		if len(m.Text) > 20 {
			t.Errorf("chunk length %d exceeds limit", len(m.Text))
		}
		parts = append(parts, m.Text)
	}
	if got := strings.Join(parts, "\n"); got != payload {
		t.Errorf("reassembled payload = %q, want %q", got, payload)
	}
}

func TestNotifyRejectsBadChatID(t *testing.T) {
	var sent sentMessages
	srv := newBotServer(t, &sent)

	tg := newTestSink(t, Config{Token: "123:abc", APIURL: srv.URL})

	err := tg.Notify(context.Background(), testLink("not-a-chat-id"), "hi")
	if err == nil {
		t.Fatal("expected error for non-numeric chat id, got nil")
	}
	if len(sent.all()) != 0 {
		t.Errorf("sent %d messages, want 0", len(sent.all()))
	}
}

func TestNotifySurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, APIResponse[json.RawMessage]{
			OK:          false,
			ErrorCode:   403,
			Description: "Forbidden: bot was blocked by the user",
		})
	}))
	t.Cleanup(srv.Close)

	tg := newTestSink(t, Config{Token: "123:abc", APIURL: srv.URL})

	err := tg.Notify(context.Background(), testLink("7"), "hi")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Notify() = %v, want 403 error", err)
	}
}

func reloadContext(t *testing.T, raw string) *core.AppContext {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	ctx := core.NewAppContext(slog.Default(), t.TempDir())
	return ctx.WithModuleConfigs(map[string]yaml.Node{
		"notify.telegram": *node.Content[0],
	})
}

func TestReloadSwapsClient(t *testing.T) {
	tg := newTestSink(t, Config{Token: "123:abc"})

	ctx := reloadContext(t, "token: \"777:newtoken\"\nrate_per_sec: 5\n")
	if err := tg.Reload(ctx); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	client, limiter, cfg := tg.snapshot()
	if cfg.Token != "777:newtoken" {
		t.Errorf("token = %q, want 777:newtoken", cfg.Token)
	}
	if client.token != "777:newtoken" {
		t.Errorf("client token = %q, want 777:newtoken", client.token)
	}
	if limiter.Burst() != 5 {
		t.Errorf("limiter burst = %d, want 5", limiter.Burst())
	}
}

func TestReloadKeepsConfigWhenSectionMissing(t *testing.T) {
	tg := newTestSink(t, Config{Token: "123:abc"})

	ctx := core.NewAppContext(slog.Default(), t.TempDir())
	if err := tg.Reload(ctx); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	_, _, cfg := tg.snapshot()
	if cfg.Token != "123:abc" {
		t.Errorf("token = %q, want unchanged 123:abc", cfg.Token)
	}
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	tg := newTestSink(t, Config{Token: "123:abc"})

	ctx := reloadContext(t, "token: \"777:newtoken\"\nrate_per_sec: 99\n")
	if err := tg.Reload(ctx); err == nil {
		t.Fatal("expected error for out-of-range rate, got nil")
	}

	_, _, cfg := tg.snapshot()
	if cfg.Token != "123:abc" {
		t.Errorf("token = %q, want unchanged 123:abc", cfg.Token)
	}
}
