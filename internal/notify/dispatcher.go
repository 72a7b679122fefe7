package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/internal/telemetry"
)

// DispatcherConfig holds the dispatcher's collaborators. Store is
// required; everything else is optional.
type DispatcherConfig struct {
	Store    storage.Store
	Limiter  *security.RateLimiter
	Metrics  *telemetry.Metrics
	Bus      *event.Bus
	Logger   *slog.Logger
	Quiet    *QuietHours    // nil = no quiet hours
	Timezone *time.Location // nil = UTC
	Now      func() time.Time
}

// Dispatcher routes a fired reminder to every sink the owner is linked
// to. It is the engine's delivery callback target.
type Dispatcher struct {
	cfg DispatcherConfig

	mu    sync.RWMutex
	sinks map[string]Notifier
}

// NewDispatcher creates a dispatcher. Sinks are registered separately,
// typically by modules during provisioning.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("notify: nil Store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Dispatcher{
		cfg:   cfg,
		sinks: make(map[string]Notifier),
	}, nil
}

// Register adds a sink under its own name.
// Returns ErrDuplicateSink if the name is already taken.
func (d *Dispatcher) Register(sink Notifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := sink.Name()
	if _, exists := d.sinks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSink, name)
	}
	d.sinks[name] = sink
	return nil
}

// Sinks returns the names of all registered sinks, sorted.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.sinks))
	for name := range d.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type target struct {
	sink Notifier
	link storage.IdentityLink
}

// Deliver sends payload to every sink the owner holds an identity link
// for. Delivery is suppressed entirely during quiet hours and when the
// notify rate limit is exhausted. Individual sink failures are collected
// and joined; the remaining sinks still receive the payload.
func (d *Dispatcher) Deliver(ctx context.Context, ownerID, payload string) error {
	now := d.cfg.Now().In(d.cfg.Timezone)
	if d.cfg.Quiet != nil && d.cfg.Quiet.IsQuiet(now) {
		d.cfg.Logger.Debug("notification suppressed during quiet hours",
			"owner_id", ownerID,
		)
		return nil
	}

	targets, errs := d.resolve(ctx, ownerID)
	if len(targets) == 0 {
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
		return fmt.Errorf("%w: %s", ErrNoLinks, ownerID)
	}

	if d.cfg.Limiter != nil {
		if err := d.cfg.Limiter.AllowN("notify", len(targets)); err != nil {
			d.cfg.Logger.Warn("notification dropped by rate limit",
				"owner_id", ownerID,
				"targets", len(targets),
			)
			return fmt.Errorf("notify: delivery to %q: %w", ownerID, err)
		}
	}

	for _, tg := range targets {
		name := tg.sink.Name()
		if err := tg.sink.Notify(ctx, tg.link, payload); err != nil {
			d.cfg.Metrics.NotifyResult(name, false)
			d.cfg.Bus.Publish(event.Event{
				Type: event.TypeNotifyFailed,
				Data: map[string]any{
					"sink":     name,
					"owner_id": ownerID,
					"error":    err.Error(),
				},
			})
			d.cfg.Logger.Error("sink delivery failed",
				"sink", name,
				"owner_id", ownerID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("notify: %s: %w", name, err))
			continue
		}
		d.cfg.Metrics.NotifyResult(name, true)
		d.cfg.Logger.Debug("sink delivery succeeded",
			"sink", name,
			"owner_id", ownerID,
		)
	}

	return errors.Join(errs...)
}

// resolve looks up the owner's identity link for each registered sink.
// Sinks without a link are skipped; lookup failures other than not-found
// are reported back so they surface in the delivery error.
func (d *Dispatcher) resolve(ctx context.Context, ownerID string) ([]target, []error) {
	d.mu.RLock()
	names := make([]string, 0, len(d.sinks))
	for name := range d.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	sinks := make([]Notifier, len(names))
	for i, name := range names {
		sinks[i] = d.sinks[name]
	}
	d.mu.RUnlock()

	var targets []target
	var errs []error
	for _, sink := range sinks {
		link, err := d.cfg.Store.Link(ctx, ownerID, sink.Name())
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			errs = append(errs, fmt.Errorf("notify: resolve link for %s: %w", sink.Name(), err))
			continue
		}
		targets = append(targets, target{sink: sink, link: link})
	}
	return targets, errs
}
