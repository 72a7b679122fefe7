// Package webhook implements the notify.webhook module, delivering fired
// reminders as signed JSON POSTs. Each owner's identity link address is
// the destination URL, so different owners can point at different
// endpoints behind one sink.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/notify"
	"github.com/flemzord/chime/internal/retry"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
	"gopkg.in/yaml.v3"
)

// maxDrainBytes bounds how much of a response body is drained before the
// connection is released for reuse.
const maxDrainBytes = 64 * 1024

func init() {
	core.RegisterModule(&Webhook{})
}

// Compile-time interface guards.
var (
	_ notify.Notifier   = (*Webhook)(nil)
	_ core.Module       = (*Webhook)(nil)
	_ core.Configurable = (*Webhook)(nil)
	_ core.Provisioner  = (*Webhook)(nil)
	_ core.Validator    = (*Webhook)(nil)
	_ core.Starter      = (*Webhook)(nil)
	_ core.Reloader     = (*Webhook)(nil)
)

// Webhook is the HTTP delivery sink.
type Webhook struct {
	logger *slog.Logger
	appCtx *core.AppContext
	now    func() time.Time

	mu     sync.RWMutex
	config Config
	client *http.Client
	filter *security.URLFilter
}

// deliveryBody is the JSON body of an outbound notification.
type deliveryBody struct {
	OwnerID string `json:"owner_id"`
	Payload string `json:"payload"`
	SentAt  string `json:"sent_at"`
}

// ModuleInfo implements core.Module.
func (wh *Webhook) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "notify.webhook",
		New: func() core.Module { return &Webhook{} },
	}
}

// Configure implements core.Configurable.
func (wh *Webhook) Configure(node *yaml.Node) error {
	if err := node.Decode(&wh.config); err != nil {
		return fmt.Errorf("notify.webhook: decode config: %w", err)
	}
	wh.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (wh *Webhook) Provision(ctx *core.AppContext) error {
	wh.appCtx = ctx
	wh.logger = ctx.Logger
	wh.apply(wh.config)
	wh.depositSecrets(ctx, wh.config)
	return nil
}

// Validate implements core.Validator.
func (wh *Webhook) Validate() error {
	return wh.config.validateTimeout()
}

// Start implements core.Starter. It registers the sink with the dispatcher.
func (wh *Webhook) Start() error {
	svc, ok := wh.appCtx.Service("notify.dispatcher")
	if !ok {
		return errors.New("notify.webhook: notify.dispatcher service not found")
	}
	dispatcher, ok := svc.(*notify.Dispatcher)
	if !ok {
		return errors.New("notify.webhook: notify.dispatcher is not a *notify.Dispatcher")
	}
	return dispatcher.Register(wh)
}

// Reload implements core.Reloader. It re-decodes the module's config
// section and installs it; a missing section keeps the running config.
func (wh *Webhook) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig("notify.webhook")
	if !ok {
		return nil
	}

	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return fmt.Errorf("notify.webhook: decode config: %w", err)
	}
	cfg.defaults()
	if err := cfg.validateTimeout(); err != nil {
		return err
	}

	wh.apply(cfg)
	wh.depositSecrets(ctx, cfg)
	wh.logger.Info("webhook sink reloaded")
	return nil
}

// Name implements notify.Notifier. It doubles as the identity link channel.
func (wh *Webhook) Name() string { return "notify.webhook" }

// Notify implements notify.Notifier. It posts the payload as JSON to the
// link's endpoint URL, bearer-authenticated and HMAC-signed when
// configured. The retrying transport beneath the client absorbs transient
// endpoint failures.
func (wh *Webhook) Notify(ctx context.Context, link storage.IdentityLink, payload string) error {
	client, cfg, filter := wh.snapshot()

	endpoint, err := url.Parse(link.Address)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
		return fmt.Errorf("notify.webhook: invalid endpoint %q", link.Address)
	}
	if err := filter.Check(link.Address); err != nil {
		return fmt.Errorf("notify.webhook: %w", err)
	}

	body, err := json.Marshal(deliveryBody{
		OwnerID: link.IdentityID,
		Payload: payload,
		SentAt:  wh.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("notify.webhook: marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify.webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	if cfg.Secret != "" {
		req.Header.Set("X-Signature-256", sign(body, cfg.Secret))
	}

	resp, err := client.Do(req)
	if err != nil {
		// Endpoint URLs may carry owner-embedded credentials in the query,
		// and url.Error echoes the full URL. Unwrap it so only the host
		// reaches the error string.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("notify.webhook: post to %s: %w", endpoint.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify.webhook: endpoint %s returned status %d", endpoint.Host, resp.StatusCode)
	}
	return nil
}

// apply installs a config and rebuilds the client and endpoint filter.
func (wh *Webhook) apply(cfg Config) {
	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.now == nil {
		wh.now = time.Now
	}
	wh.config = cfg
	wh.client = &http.Client{
		Timeout:   cfg.parsedTimeout(),
		Transport: &retry.Transport{},
	}
	wh.filter = security.NewURLFilter(cfg.Endpoints)
}

func (wh *Webhook) snapshot() (*http.Client, Config, *security.URLFilter) {
	wh.mu.RLock()
	defer wh.mu.RUnlock()
	return wh.client, wh.config, wh.filter
}

// depositSecrets hands the signing key and bearer token to the shared
// secret store so the redactor strips them from log output.
func (wh *Webhook) depositSecrets(ctx *core.AppContext, cfg Config) {
	svc, ok := ctx.Service("security.secrets")
	if !ok {
		return
	}
	store, ok := svc.(*security.SecretStore)
	if !ok {
		return
	}
	store.Set("webhook.secret", cfg.Secret)
	store.Set("webhook.auth_token", cfg.AuthToken)
}

// sign computes the X-Signature-256 value for body: "sha256=" + hex HMAC.
func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
