// Package notify fans fired reminders out to delivery sinks.
//
// A sink is anything that can push a message to an owner's linked address
// (Telegram, webhooks). The Dispatcher resolves an owner's identity links,
// applies quiet hours and rate limits, and delivers to every linked sink.
// One sink failing never prevents delivery through the others.
package notify

import (
	"context"
	"errors"

	"github.com/flemzord/chime/internal/storage"
)

// Sentinel errors for notification dispatch.
var (
	// ErrDuplicateSink indicates a sink with the same name is already
	// registered in the dispatcher.
	ErrDuplicateSink = errors.New("notify: duplicate sink name")

	// ErrNoLinks indicates the owner has no identity link for any
	// registered sink, so there is nowhere to deliver.
	ErrNoLinks = errors.New("notify: identity has no linked sinks")
)

// Notifier is a delivery sink. Implementations are registered under their
// Name, which doubles as the identity-link channel, so an owner linked to
// "notify.telegram" is delivered to by the sink named "notify.telegram".
//
// Notify receives the resolved link carrying the destination address.
// Payloads are reminder text; sinks must not log credential material
// that might be embedded in them.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, link storage.IdentityLink, payload string) error
}
