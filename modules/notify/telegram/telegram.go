// Package telegram implements the notify.telegram module, delivering fired
// reminders to Telegram chats through the Bot API. The identity link
// address is the destination chat id.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/notify"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Telegram{})
}

// Compile-time interface guards.
var (
	_ notify.Notifier   = (*Telegram)(nil)
	_ core.Module       = (*Telegram)(nil)
	_ core.Configurable = (*Telegram)(nil)
	_ core.Provisioner  = (*Telegram)(nil)
	_ core.Validator    = (*Telegram)(nil)
	_ core.Starter      = (*Telegram)(nil)
	_ core.Reloader     = (*Telegram)(nil)
)

// Telegram is the Bot API delivery sink. Reload swaps the client, limiter,
// and config as one unit; in-flight sends finish on the old client.
type Telegram struct {
	logger *slog.Logger
	appCtx *core.AppContext

	mu      sync.RWMutex
	config  Config
	client  *Client
	limiter *rate.Limiter
}

// ModuleInfo implements core.Module.
func (t *Telegram) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "notify.telegram",
		New: func() core.Module { return &Telegram{} },
	}
}

// Configure implements core.Configurable.
func (t *Telegram) Configure(node *yaml.Node) error {
	if err := node.Decode(&t.config); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	t.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (t *Telegram) Provision(ctx *core.AppContext) error {
	t.appCtx = ctx
	t.logger = ctx.Logger
	t.apply(t.config)
	t.depositToken(ctx, t.config.Token)
	return nil
}

// Validate implements core.Validator.
func (t *Telegram) Validate() error {
	if t.config.Token == "" {
		return errors.New("telegram: token is required")
	}
	return t.config.validate()
}

// Start implements core.Starter. It verifies the token against getMe and
// registers the sink with the dispatcher.
func (t *Telegram) Start() error {
	client, _, _ := t.snapshot()
	user, err := client.GetMe(context.Background())
	if err != nil {
		return fmt.Errorf("telegram: getMe failed (check token): %w", err)
	}
	t.logger.Info("telegram bot authenticated",
		"id", user.ID,
		"username", user.Username,
	)

	svc, ok := t.appCtx.Service("notify.dispatcher")
	if !ok {
		return errors.New("telegram: notify.dispatcher service not found")
	}
	dispatcher, ok := svc.(*notify.Dispatcher)
	if !ok {
		return errors.New("telegram: notify.dispatcher is not a *notify.Dispatcher")
	}
	return dispatcher.Register(t)
}

// Reload implements core.Reloader. It re-decodes the module's config
// section and installs it; a missing section keeps the running config.
func (t *Telegram) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig("notify.telegram")
	if !ok {
		return nil
	}

	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	cfg.defaults()
	if cfg.Token == "" {
		return errors.New("telegram: token is required")
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	t.apply(cfg)
	t.depositToken(ctx, cfg.Token)
	t.logger.Info("telegram sink reloaded")
	return nil
}

// Name implements notify.Notifier. It doubles as the identity link channel.
func (t *Telegram) Name() string { return "notify.telegram" }

// Notify implements notify.Notifier. Payloads longer than the configured
// message length are split at line boundaries; every chunk waits on the
// rate limiter so bursts stay inside the Bot API budget.
func (t *Telegram) Notify(ctx context.Context, link storage.IdentityLink, payload string) error {
	client, limiter, cfg := t.snapshot()

	chatID, err := strconv.ParseInt(link.Address, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", link.Address, err)
	}

	chunks := notify.Split(payload, notify.ChunkConfig{
		MaxLength:      cfg.MaxMessageLength,
		PreserveBlocks: true,
	})

	for _, chunk := range chunks {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram: rate limiter: %w", err)
		}
		if _, err := client.SendMessage(ctx, SendMessageRequest{
			ChatID: chatID,
			Text:   chunk,
		}); err != nil {
			return fmt.Errorf("telegram: send to chat %d: %w", chatID, err)
		}
	}
	return nil
}

// apply installs a config and rebuilds the client and limiter.
func (t *Telegram) apply(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config = cfg
	t.client = NewClient(cfg.Token, cfg.APIURL)
	t.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (t *Telegram) snapshot() (*Client, *rate.Limiter, Config) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client, t.limiter, t.config
}

// depositToken hands the bot token to the shared secret store so the
// redactor strips it from log output.
func (t *Telegram) depositToken(ctx *core.AppContext, token string) {
	if svc, ok := ctx.Service("security.secrets"); ok {
		if store, ok := svc.(*security.SecretStore); ok {
			store.Set("telegram.token", token)
		}
	}
}
