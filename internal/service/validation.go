package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spatialqc/spatialqc/internal/jobs"
	"github.com/spatialqc/spatialqc/internal/store"
	"github.com/spatialqc/spatialqc/internal/validation"
)

// ValidationService is what an API layer calls: it submits runs as
// background jobs, exposes their status, and serves historical results.
type ValidationService struct {
	registry     *jobs.Registry
	orchestrator *validation.Orchestrator
	store        store.Store
	log          *zap.SugaredLogger
}

func NewValidationService(registry *jobs.Registry, orchestrator *validation.Orchestrator, s store.Store) *ValidationService {
	return &ValidationService{
		registry:     registry,
		orchestrator: orchestrator,
		store:        s,
		log:          zap.S().Named("service"),
	}
}

// StartValidation submits a run for path and returns the job id
// immediately; the run proceeds on its own task under a registry-owned
// cancellation source.
func (s *ValidationService) StartValidation(ctx context.Context, path string) (uuid.UUID, error) {
	if path == "" {
		return uuid.Nil, NewErrInvalidRequest("dataset path is required")
	}

	id, runCtx := s.registry.CreateValidationJob(ctx, path)
	go s.run(runCtx, id, path)

	s.log.Infof("job %s: validation of %s submitted", id, path)
	return id, nil
}

func (s *ValidationService) run(ctx context.Context, id uuid.UUID, path string) {
	// A rejected target fails the job straight from NotStarted; Running is
	// only ever observed for runs that actually started.
	if err := validation.CheckTarget(path); err == nil {
		s.registry.Update(id, func(j *jobs.Job) {
			j.Status = jobs.StatusRunning
			j.Task = "validation started"
		})
	}

	result, err := s.orchestrator.RunWithProgress(ctx, path, s.progressSink(id))

	switch {
	case err == nil && result.Status == validation.StatusFailed:
		// Recoverable failure: the run finished with a failure verdict.
		s.registry.Fail(id, result.Message)
	case err == nil:
		s.registry.Complete(id, summarize(result), result)
	case errors.Is(err, context.Canceled):
		s.registry.MarkCancelled(id)
	default:
		s.registry.Fail(id, err.Error())
	}
}

// progressSink mirrors orchestrator progress onto the job record so that
// polling the job mid-run shows live percent, task and stage states.
func (s *ValidationService) progressSink(id uuid.UUID) validation.ProgressSink {
	return func(p validation.Progress) {
		s.registry.Update(id, func(j *jobs.Job) {
			j.Percent = p.Percent
			j.Task = p.Task
			for stage, state := range p.Stages {
				j.Stages[stage] = jobs.StageProgress{
					Stage:       stage,
					Name:        validation.StageName(stage),
					Status:      state.Status,
					StartedAt:   state.StartedAt,
					CompletedAt: state.CompletedAt,
				}
			}
		})
	}
}

// Summary is the caller-visible response attached to a completed job.
type Summary struct {
	RunID         uuid.UUID         `json:"runId"`
	Status        validation.Status `json:"status"`
	TotalErrors   int               `json:"totalErrors"`
	TotalWarnings int               `json:"totalWarnings"`
}

func summarize(result *validation.Result) Summary {
	return Summary{
		RunID:         result.RunID,
		Status:        result.Status,
		TotalErrors:   result.TotalErrors,
		TotalWarnings: result.TotalWarnings,
	}
}

func (s *ValidationService) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	job, ok := s.registry.Get(id)
	if !ok {
		return nil, NewErrJobNotFound(id)
	}
	return &job, nil
}

func (s *ValidationService) ListJobs(ctx context.Context) []jobs.Job {
	return s.registry.List()
}

func (s *ValidationService) CancelJob(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.registry.Get(id); !ok {
		return NewErrJobNotFound(id)
	}
	if !s.registry.Cancel(id) {
		return NewErrJobNotCancellable(id)
	}
	return nil
}

func (s *ValidationService) RemoveJob(ctx context.Context, id uuid.UUID) error {
	if !s.registry.Remove(id) {
		return NewErrJobNotFound(id)
	}
	return nil
}

func (s *ValidationService) GetResult(ctx context.Context, runID uuid.UUID) (*validation.Result, error) {
	record, err := s.store.ValidationResult().Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrResultNotFound(runID)
		}
		return nil, err
	}
	return record.Unpack(), nil
}

// ListResults pages through persisted run results, newest first.
func (s *ValidationService) ListResults(ctx context.Context, filter validation.ResultFilter, paging validation.Paging) ([]validation.Result, int64, error) {
	return store.NewResultAdapter(s.store).List(ctx, filter, paging)
}
