package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrURLBlocked is returned for delivery endpoints rejected by policy.
var ErrURLBlocked = errors.New("URL blocked by filter")

// URLFilterConfig restricts where owner-supplied delivery endpoints may
// point. Webhook reminders post to whatever URL an identity link
// carries, so an operator can pin deliveries to known receiver domains
// instead of trusting every stored link.
type URLFilterConfig struct {
	// AllowDomains lists acceptable endpoint domains, subdomains
	// included: allowing "example.com" also allows "hooks.example.com".
	// Empty imposes no allow restriction.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains blocks matching domains outright and wins over
	// AllowDomains.
	DenyDomains []string `yaml:"deny_domains"`

	// AllowPrivate permits endpoints with loopback, RFC 1918, or
	// link-local addresses. Off by default: a stored link pointing into
	// the host or the LAN is more likely a probe than a receiver.
	AllowPrivate bool `yaml:"allow_private"`
}

// URLFilter answers whether an endpoint URL is acceptable. The zero
// configuration allows any public http(s) endpoint; configuring an
// allow list flips the domain check to default-deny.
type URLFilter struct {
	allow        []string
	deny         []string
	allowPrivate bool
}

// NewURLFilter builds a filter from cfg. Domains are lowercased and
// trimmed; empty entries are dropped.
func NewURLFilter(cfg URLFilterConfig) *URLFilter {
	return &URLFilter{
		allow:        normalizeDomains(cfg.AllowDomains),
		deny:         normalizeDomains(cfg.DenyDomains),
		allowPrivate: cfg.AllowPrivate,
	}
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Check reports whether rawURL may be used as a delivery endpoint.
func (f *URLFilter) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrURLBlocked, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}

	// IP-literal endpoints into the host or the LAN are refused even
	// when a domain rule would match them. This checks only literals;
	// names resolving to private addresses are out of scope here.
	if addr, err := netip.ParseAddr(host); err == nil && !f.allowPrivate && isPrivateAddr(addr) {
		return fmt.Errorf("%w: %s (private address)", ErrURLBlocked, host)
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
		}
	}

	if len(f.allow) == 0 {
		return nil
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
}

func isPrivateAddr(addr netip.Addr) bool {
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// matchDomain reports whether host equals domain or is a subdomain of
// it. "notexample.com" does not match "example.com".
func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
