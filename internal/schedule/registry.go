package schedule

import (
	"sort"
	"sync"

	cron "github.com/robfig/cron/v3"

	"github.com/flemzord/chime/internal/storage"
)

// Registry tracks the jobs currently registered with the engine, keyed by
// job id. It reflects what is scheduled right now, which can differ from
// the store when a persisted expression failed to load.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]entry
}

type entry struct {
	job     storage.ScheduledJob
	entryID cron.EntryID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]entry)}
}

// Jobs returns the registered jobs ordered by id.
func (r *Registry) Jobs() []storage.ScheduledJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]storage.ScheduledJob, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Job returns the registered job with the given id.
func (r *Registry) Job(id int64) (storage.ScheduledJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return e.job, ok
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// put records a job and its cron entry. When a job with the same id was
// already registered, the previous entry id is returned so the caller can
// unschedule it.
func (r *Registry) put(job storage.ScheduledJob, id cron.EntryID) (cron.EntryID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, replaced := r.entries[job.ID]
	r.entries[job.ID] = entry{job: job, entryID: id}
	return old.entryID, replaced
}

// remove forgets a job and returns the cron entry that backed it.
func (r *Registry) remove(jobID int64) (cron.EntryID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if ok {
		delete(r.entries, jobID)
	}
	return e.entryID, ok
}
