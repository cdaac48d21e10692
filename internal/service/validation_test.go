package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialqc/spatialqc/internal/config"
	"github.com/spatialqc/spatialqc/internal/datasource"
	"github.com/spatialqc/spatialqc/internal/jobs"
	"github.com/spatialqc/spatialqc/internal/store"
	"github.com/spatialqc/spatialqc/internal/validation"
)

type okChecker struct {
	block chan struct{} // when set, geometry checks wait for ctx
}

func ok() (*validation.CheckOutcome, error) {
	return &validation.CheckOutcome{IsValid: true}, nil
}

func (c *okChecker) CheckTableList(ctx context.Context, path string, cfg *validation.TableSection) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) CheckCoordinateSystem(ctx context.Context, path string, cfg *validation.TableSection) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) CheckGeometryTypes(ctx context.Context, path string, cfg *validation.TableSection) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) CheckColumnStructure(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) CheckDataTypes(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) CheckPrimaryKeys(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) CheckForeignKeys(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) Check(ctx context.Context, path string, kind validation.GeometryCheckKind, cfg *validation.GeometrySection) (*validation.CheckOutcome, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ok()
}

func (c *okChecker) CheckRule(ctx context.Context, path string, row validation.RelationRuleRow) (*validation.CheckOutcome, error) {
	return ok()
}

func (c *okChecker) DropCaches() {}

type serviceFixture struct {
	svc     *ValidationService
	checker *okChecker
	store   store.Store
	path    string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	target := filepath.Join(t.TempDir(), "dataset.gpkg")
	require.NoError(t, os.WriteFile(target, []byte("stub"), 0o600))

	db, err := store.InitDB(config.NewDefault())
	require.NoError(t, err)
	s := store.NewStore(db)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	checker := &okChecker{}
	orchestrator := validation.NewOrchestrator(validation.OrchestratorOptions{
		Source:   datasource.NewMemorySource(true),
		Table:    checker,
		Schema:   checker,
		Geometry: checker,
		Relation: checker,
		Store:    store.NewResultAdapter(s),
		Loader: &validation.StaticConfigLoader{Config: &validation.RunConfig{
			Geometry: &validation.GeometrySection{Checks: map[string]bool{"duplicate": true}},
		}},
	})

	return &serviceFixture{
		svc:     NewValidationService(jobs.NewRegistry(), orchestrator, s),
		checker: checker,
		store:   s,
		path:    target,
	}
}

func waitTerminal(t *testing.T, svc *ValidationService, id uuid.UUID) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		j, err := svc.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestStartValidationCompletesAndPersists(t *testing.T) {
	f := newServiceFixture(t)

	id, err := f.svc.StartValidation(context.Background(), f.path)
	require.NoError(t, err)

	job := waitTerminal(t, f.svc, id)
	require.Equal(t, jobs.StatusCompleted, job.Status)

	summary, okCast := job.Response.(Summary)
	require.True(t, okCast)
	assert.Equal(t, validation.StatusCompleted, summary.Status)

	// The run result is queryable by its run id.
	result, err := f.svc.GetResult(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, validation.StatusCompleted, result.Status)

	items, total, err := f.svc.ListResults(context.Background(), validation.ResultFilter{}, validation.Paging{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, items, 1)
}

func TestStartValidationRejectsEmptyPath(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.StartValidation(context.Background(), "")
	require.Error(t, err)
	var invalid *ErrInvalidRequest
	assert.ErrorAs(t, err, &invalid)
}

func TestMissingDatasetFailsJobWithMessage(t *testing.T) {
	f := newServiceFixture(t)

	id, err := f.svc.StartValidation(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)

	job := waitTerminal(t, f.svc, id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Message, "not found")
	// The job went NotStarted straight to Failed.
	assert.Empty(t, job.Task)
}

func TestCancelRunningJob(t *testing.T) {
	f := newServiceFixture(t)
	f.checker.block = make(chan struct{})

	id, err := f.svc.StartValidation(context.Background(), f.path)
	require.NoError(t, err)

	// Wait until the run blocks inside the geometry stage, then cancel.
	require.Eventually(t, func() bool {
		j, gerr := f.svc.GetJob(context.Background(), id)
		return gerr == nil && j.Status == jobs.StatusRunning
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.svc.CancelJob(context.Background(), id))

	job := waitTerminal(t, f.svc, id)
	assert.Equal(t, jobs.StatusCancelled, job.Status)

	// Cancelling a terminal job is rejected.
	err = f.svc.CancelJob(context.Background(), id)
	var notCancellable *ErrJobNotCancellable
	assert.ErrorAs(t, err, &notCancellable)
}

func TestGetJobUnknownID(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.GetJob(context.Background(), uuid.New())
	var notFound *ErrJobNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestRemoveJob(t *testing.T) {
	f := newServiceFixture(t)

	id, err := f.svc.StartValidation(context.Background(), f.path)
	require.NoError(t, err)
	waitTerminal(t, f.svc, id)

	require.NoError(t, f.svc.RemoveJob(context.Background(), id))
	_, err = f.svc.GetJob(context.Background(), id)
	var notFound *ErrJobNotFound
	assert.ErrorAs(t, err, &notFound)

	err = f.svc.RemoveJob(context.Background(), id)
	assert.ErrorAs(t, err, &notFound)
}

func TestGetResultUnknownRun(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.GetResult(context.Background(), uuid.New())
	var notFound *ErrResultNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestJobReportsProgressMidRun(t *testing.T) {
	f := newServiceFixture(t)
	f.checker.block = make(chan struct{})

	id, err := f.svc.StartValidation(context.Background(), f.path)
	require.NoError(t, err)

	// With the geometry stage parked, the job must already show the
	// progress accumulated by the earlier stages.
	var job *jobs.Job
	require.Eventually(t, func() bool {
		j, err := f.svc.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Percent > 0 && len(j.Stages) > 0
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, jobs.StatusRunning, job.Status)
	assert.NotEmpty(t, job.Task)
	assert.Less(t, job.Percent, float64(100))

	table, ok := job.Stages[validation.StageTable]
	require.True(t, ok)
	assert.Equal(t, "completed", table.Status)
	assert.Equal(t, validation.StageName(validation.StageTable), table.Name)
	require.NotNil(t, table.StartedAt)
	require.NotNil(t, table.CompletedAt)

	close(f.checker.block)
	job = waitTerminal(t, f.svc, id)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, float64(100), job.Percent)
	assert.Equal(t, "completed", job.Stages[validation.StageRelation].Status)
}
