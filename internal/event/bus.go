// Package event provides the in-process fan-out bus behind the gateway's
// live event feed. Publishing is non-blocking: slow subscribers drop events
// rather than stalling the scheduler or the credential manager.
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types published on the bus.
const (
	TypeJobFired            = "job_fired"
	TypeJobAdded            = "job_added"
	TypeJobRemoved          = "job_removed"
	TypeCredentialRefreshed = "credential_refreshed"
	TypeCredentialDeleted   = "credential_deleted"
	TypeNotifyFailed        = "notify_failed"
	TypeConfigReloaded      = "config_reloaded"
)

// Event is one bus message, shaped for JSON serialization on the websocket
// feed. Data carries identity ids, job ids, and outcomes; token material is
// never published.
type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Bus is an in-memory fan-out bus. All methods are safe for concurrent use
// and safe on a nil receiver, so subsystems can run without a bus wired.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// NewBus returns an empty bus. It owns no background goroutines.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Publish assigns the event an id and timestamp and delivers it to every
// subscriber without blocking. Events for full subscriber buffers are
// dropped.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Snapshot subscribers so sends happen outside the lock.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A subscriber may unsubscribe concurrently, closing its channel;
		// recover from the resulting send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus an idempotent unsubscribe that also closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
