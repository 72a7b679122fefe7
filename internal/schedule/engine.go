package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flemzord/chime/internal/event"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/internal/telemetry"
)

// Callback delivers a fired reminder to its owner. There is exactly one
// callback slot on the engine; setting a new one replaces the previous.
type Callback func(ownerID, payload string) error

// LoaderFunc supplies the jobs to register when the engine starts,
// typically backed by the job store.
type LoaderFunc func(ctx context.Context) ([]storage.ScheduledJob, error)

// EngineConfig carries the engine's collaborators. All fields are
// optional; nil values fall back to safe defaults.
type EngineConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Bus      *event.Bus
	Location *time.Location
}

// Engine schedules reminder jobs and delivers them through the callback.
// Each fired job runs in its own goroutine, so one slow or failing
// delivery never delays another job. Stop waits for in-flight deliveries.
type Engine struct {
	cron     *cron.Cron
	registry *Registry
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	bus      *event.Bus

	cbMu sync.RWMutex
	cb   Callback

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewEngine builds an engine. Jobs may be added before or after Start.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	return &Engine{
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		registry: registry,
		logger:   logger,
		metrics:  cfg.Metrics,
		bus:      cfg.Bus,
	}
}

// Registry exposes the live job registry for read access.
func (e *Engine) Registry() *Registry { return e.registry }

// SetCallback installs the delivery callback. The last callback set wins;
// passing nil clears the slot, in which case fired reminders are dropped
// with a warning.
func (e *Engine) SetCallback(cb Callback) {
	e.cbMu.Lock()
	e.cb = cb
	e.cbMu.Unlock()
}

// Start registers the jobs supplied by loader and starts the cron runner.
// A loader failure is logged and the engine starts with zero jobs rather
// than refusing to run. Individual jobs with unparseable expressions are
// skipped the same way. Calling Start more than once is a no-op.
func (e *Engine) Start(ctx context.Context, loader LoaderFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	if loader != nil {
		jobs, err := loader(ctx)
		if err != nil {
			e.logger.Error("job loader failed, starting with zero jobs", "error", err)
		} else {
			for _, job := range jobs {
				if err := e.add(job); err != nil {
					e.logger.Error("skipping stored job with invalid schedule",
						"job_id", job.ID,
						"error", err,
					)
				}
			}
		}
	}

	e.cron.Start()
	e.started = true
	e.logger.Info("schedule: engine started", "jobs", e.registry.Len())
	return nil
}

// Add validates the job's cron expression and schedules it. Adding a job
// whose id is already registered replaces the previous schedule. Returns
// an *InvalidScheduleError when the expression does not parse; nothing is
// registered in that case.
func (e *Engine) Add(job storage.ScheduledJob) error {
	if err := Validate(job.Schedule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.add(job)
}

func (e *Engine) add(job storage.ScheduledJob) error {
	id, err := e.cron.AddFunc(job.Schedule, func() { e.fire(job) })
	if err != nil {
		return &InvalidScheduleError{Expression: job.Schedule, Err: err}
	}
	if old, replaced := e.registry.put(job, id); replaced {
		e.cron.Remove(old)
	}
	e.metrics.SetActiveJobs(e.registry.Len())
	return nil
}

// Remove unschedules the job with the given id. It reports whether the
// job was registered; removing an unknown id is a harmless no-op.
func (e *Engine) Remove(jobID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.registry.remove(jobID)
	if !ok {
		return false
	}
	e.cron.Remove(id)
	e.metrics.SetActiveJobs(e.registry.Len())
	return true
}

// fire runs on the cron goroutine for each due job. It publishes the fire
// event, then hands the rendered payload to the callback. Callback errors
// and panics are contained here; the job stays scheduled either way.
func (e *Engine) fire(job storage.ScheduledJob) {
	e.metrics.JobFired()
	e.bus.Publish(event.Event{
		Type: event.TypeJobFired,
		Data: map[string]any{
			"job_id":   job.ID,
			"owner_id": job.OwnerID,
			"schedule": job.Schedule,
		},
	})

	e.cbMu.RLock()
	cb := e.cb
	e.cbMu.RUnlock()

	if cb == nil {
		e.logger.Warn("reminder fired but no callback is set",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
		)
		return
	}

	e.deliver(cb, job)
}

func (e *Engine) deliver(cb Callback, job storage.ScheduledJob) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.CallbackError()
			e.logger.Error("reminder callback panicked",
				"job_id", job.ID,
				"owner_id", job.OwnerID,
				"panic", r,
			)
		}
	}()

	_, span := telemetry.StartSpan(context.Background(), "schedule.fire",
		attribute.Int64("job_id", job.ID),
	)
	defer span.End()

	if err := cb(job.OwnerID, Render(job)); err != nil {
		e.metrics.CallbackError()
		e.logger.Error("reminder callback failed",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
			"error", err,
		)
	}
}

// Stop halts the cron runner and waits for in-flight deliveries to
// finish. It is safe to call on an engine that never started, and calling
// it twice is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.stopped {
		return
	}
	e.stopped = true

	<-e.cron.Stop().Done()
	e.logger.Info("schedule: engine stopped")
}
