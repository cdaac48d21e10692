package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spatialqc/spatialqc/pkg/metrics"
)

// jobState is the mutable record behind a job id. All mutation happens under
// its mutex so a concurrent status poll never observes a half-updated job.
type jobState struct {
	mu     sync.Mutex
	job    Job
	cancel context.CancelFunc
}

// Registry is the process-wide job table. Constructed once, injected into
// the services that submit or poll background work.
type Registry struct {
	mu     sync.RWMutex
	states map[uuid.UUID]*jobState
	log    *zap.SugaredLogger
}

func NewRegistry() *Registry {
	return &Registry{
		states: make(map[uuid.UUID]*jobState),
		log:    zap.S().Named("jobs"),
	}
}

// Create allocates a job of the given kind and returns its id together with
// the context the background task must run under. The registry owns the
// cancellation source.
func (r *Registry) Create(parent context.Context, kind Kind, targetPath string) (uuid.UUID, context.Context) {
	id := uuid.New()
	runCtx, cancel := context.WithCancel(parent)

	now := time.Now()
	state := &jobState{
		job: Job{
			ID:         id,
			Kind:       kind,
			Status:     StatusNotStarted,
			TargetPath: targetPath,
			Stages:     make(map[int]StageProgress),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		cancel: cancel,
	}

	r.mu.Lock()
	r.states[id] = state
	r.mu.Unlock()

	metrics.UpdateActiveJobCountMetric(string(kind), 1)
	return id, runCtx
}

// CreateValidationJob allocates a validation job for the dataset at path.
func (r *Registry) CreateValidationJob(parent context.Context, path string) (uuid.UUID, context.Context) {
	return r.Create(parent, KindValidation, path)
}

// CreateConversionJob allocates a spatial-format conversion job.
func (r *Registry) CreateConversionJob(parent context.Context, path string) (uuid.UUID, context.Context) {
	return r.Create(parent, KindConversion, path)
}

// Get returns a snapshot of the job, or false if unknown.
func (r *Registry) Get(id uuid.UUID) (Job, bool) {
	state, ok := r.state(id)
	if !ok {
		return Job{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return cloneJob(&state.job), true
}

// List returns snapshots of every tracked job.
func (r *Registry) List() []Job {
	r.mu.RLock()
	states := make([]*jobState, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, s)
	}
	r.mu.RUnlock()

	out := make([]Job, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, cloneJob(&s.job))
		s.mu.Unlock()
	}
	return out
}

// Update applies fn to the job's mutable state under its lock. Unknown ids
// are ignored.
func (r *Registry) Update(id uuid.UUID, fn func(*Job)) {
	state, ok := r.state(id)
	if !ok {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	fn(&state.job)
	state.job.UpdatedAt = time.Now()
}

// Cancel signals the job's cancellation source. Returns false when the job
// is unknown or already terminal. Cancelling twice is harmless.
func (r *Registry) Cancel(id uuid.UUID) bool {
	state, ok := r.state(id)
	if !ok {
		return false
	}

	state.mu.Lock()
	terminal := state.job.Status.Terminal()
	cancel := state.cancel
	state.mu.Unlock()

	if terminal {
		return false
	}
	cancel()
	r.log.Infof("job %s cancellation requested", id)
	return true
}

// MarkCancelled records the terminal Cancelled state once the background
// task has unwound. Idempotent at terminal states.
func (r *Registry) MarkCancelled(id uuid.UUID) {
	r.terminal(id, StatusCancelled, func(j *Job) {})
}

// Fail moves the job to Failed with an explanatory message. Idempotent at
// terminal states.
func (r *Registry) Fail(id uuid.UUID, message string) {
	r.terminal(id, StatusFailed, func(j *Job) { j.Message = message })
}

// Complete moves the job to Completed, attaching the caller-visible response
// and the raw result. Idempotent at terminal states.
func (r *Registry) Complete(id uuid.UUID, response any, rawResult any) {
	r.terminal(id, StatusCompleted, func(j *Job) {
		j.Response = response
		j.RawResult = rawResult
		j.Percent = 100
	})
}

// Remove cancels the job if still active, then deletes it.
func (r *Registry) Remove(id uuid.UUID) bool {
	if _, ok := r.state(id); !ok {
		return false
	}

	// Force a terminal transition first so the cancellation source fires
	// and the active-job accounting stays balanced.
	r.terminal(id, StatusCancelled, func(j *Job) {})

	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
	return true
}

// SweepTerminal removes terminal jobs older than retention. Used by the
// retention janitor.
func (r *Registry) SweepTerminal(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, state := range r.states {
		state.mu.Lock()
		stale := state.job.Status.Terminal() && state.job.UpdatedAt.Before(cutoff)
		state.mu.Unlock()
		if stale {
			delete(r.states, id)
			removed++
		}
	}
	if removed > 0 {
		r.log.Infof("retention sweep removed %d terminal jobs", removed)
	}
	return removed
}

func (r *Registry) terminal(id uuid.UUID, status Status, apply func(*Job)) {
	state, ok := r.state(id)
	if !ok {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.job.Status.Terminal() {
		return
	}
	apply(&state.job)
	state.job.Status = status
	state.job.UpdatedAt = time.Now()
	state.cancel()

	// Run outcomes are counted by the validation orchestrator, which owns
	// the run semantics. The registry only balances the active-job gauge.
	metrics.UpdateActiveJobCountMetric(string(state.job.Kind), -1)
}

func (r *Registry) state(id uuid.UUID) (*jobState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[id]
	return s, ok
}

func cloneJob(j *Job) Job {
	out := *j
	out.Stages = make(map[int]StageProgress, len(j.Stages))
	for k, v := range j.Stages {
		out.Stages[k] = v
	}
	return out
}
