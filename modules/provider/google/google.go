// Package google implements the provider.google module, which exchanges
// refresh tokens for access tokens against Google's OAuth 2.0 endpoints
// and revokes tokens when credentials are deleted.
package google

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/oauth"
	"github.com/flemzord/chime/internal/retry"
	"github.com/flemzord/chime/internal/security"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Provider{})
}

// Compile-time interface guards.
var (
	_ oauth.Provider    = (*Provider)(nil)
	_ core.Module       = (*Provider)(nil)
	_ core.Configurable = (*Provider)(nil)
	_ core.Provisioner  = (*Provider)(nil)
	_ core.Validator    = (*Provider)(nil)
)

// Provider implements oauth.Provider against Google's token and revocation
// endpoints.
type Provider struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

// ModuleInfo implements core.Module.
func (p *Provider) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "provider.google",
		New: func() core.Module { return &Provider{} },
	}
}

// Configure implements core.Configurable.
func (p *Provider) Configure(node *yaml.Node) error {
	if err := node.Decode(&p.config); err != nil {
		return err
	}
	p.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (p *Provider) Provision(ctx *core.AppContext) error {
	p.logger = ctx.Logger

	// The retrying transport absorbs transient failures (network errors,
	// 5xx, 429) so Refresh and Revoke stay single-shot.
	p.client = &http.Client{
		Timeout:   p.config.parsedTimeout(),
		Transport: &retry.Transport{},
	}

	// Hand the client secret to the shared secret store so the redactor
	// strips it from any log output.
	if svc, ok := ctx.Service("security.secrets"); ok {
		if store, ok := svc.(*security.SecretStore); ok {
			store.Set("google.client_secret", p.config.ClientSecret)
		}
	}

	ctx.RegisterService("oauth.provider", p)

	p.logger.Info("google oauth provider ready",
		"token_url", p.config.TokenURL,
		"timeout", p.config.Timeout)

	return nil
}

// Validate implements core.Validator.
func (p *Provider) Validate() error {
	if p.config.ClientID == "" {
		return errors.New("provider.google: client_id is required")
	}
	if p.config.ClientSecret == "" {
		return errors.New("provider.google: client_secret is required")
	}
	if err := p.config.validateTimeout(); err != nil {
		return err
	}
	return nil
}
