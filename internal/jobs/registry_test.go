package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()

	id, runCtx := r.CreateValidationJob(context.Background(), "/data/parcels.gpkg")
	require.NotEqual(t, uuid.Nil, id)
	require.NoError(t, runCtx.Err())

	job, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, KindValidation, job.Kind)
	assert.Equal(t, StatusNotStarted, job.Status)
	assert.Equal(t, "/data/parcels.gpkg", job.TargetPath)
}

func TestGetUnknownJob(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(uuid.New())
	assert.False(t, ok)
}

func TestCancelSignalsRunContext(t *testing.T) {
	r := NewRegistry()
	id, runCtx := r.Create(context.Background(), KindValidation, "/data/a.gpkg")

	require.True(t, r.Cancel(id))

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context not cancelled")
	}
}

func TestCancelIsIdempotentAndFalseWhenTerminal(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Create(context.Background(), KindValidation, "/data/a.gpkg")

	assert.True(t, r.Cancel(id))
	// A second cancel before the worker unwinds is still acknowledged.
	assert.True(t, r.Cancel(id))

	r.MarkCancelled(id)
	assert.False(t, r.Cancel(id))

	job, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, job.Status)
}

func TestTerminalTransitionsAreSticky(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Create(context.Background(), KindValidation, "/data/a.gpkg")

	r.Complete(id, "summary", nil)
	job, _ := r.Get(id)
	require.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, float64(100), job.Percent)

	// Fail after Complete is a no-op.
	r.Fail(id, "too late")
	job, _ = r.Get(id)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Empty(t, job.Message)
}

func TestFailRecordsMessage(t *testing.T) {
	r := NewRegistry()
	id, runCtx := r.CreateConversionJob(context.Background(), "/data/b.shp")

	r.Fail(id, "dataset not found")

	job, _ := r.Get(id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "dataset not found", job.Message)

	// Terminal transition releases the run context.
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context not released on failure")
	}
}

func TestRemoveCancelsActiveJob(t *testing.T) {
	r := NewRegistry()
	id, runCtx := r.Create(context.Background(), KindValidation, "/data/a.gpkg")

	require.True(t, r.Remove(id))
	_, ok := r.Get(id)
	assert.False(t, ok)

	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("run context not cancelled on remove")
	}

	assert.False(t, r.Remove(id))
}

func TestSnapshotsDoNotAliasRegistryState(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Create(context.Background(), KindValidation, "/data/a.gpkg")

	r.Update(id, func(j *Job) {
		j.Stages[1] = StageProgress{Stage: 1, Name: "metadata", Status: "running"}
	})

	job, _ := r.Get(id)
	job.Stages[1] = StageProgress{Stage: 1, Name: "tampered", Status: "done"}

	fresh, _ := r.Get(id)
	assert.Equal(t, "metadata", fresh.Stages[1].Name)
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	r := NewRegistry()
	id, _ := r.Create(context.Background(), KindValidation, "/data/a.gpkg")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Update(id, func(job *Job) {
					job.Percent = float64(j)
					job.Task = "stage sweep"
				})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if job, ok := r.Get(id); ok {
					// Percent and Task must always come from the same write.
					if job.Percent > 0 {
						assert.Equal(t, "stage sweep", job.Task)
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestSweepTerminalHonorsRetention(t *testing.T) {
	r := NewRegistry()

	oldID, _ := r.Create(context.Background(), KindValidation, "/data/old.gpkg")
	r.Complete(oldID, nil, nil)
	// Update refreshes UpdatedAt, so push it back directly.
	if s, ok := r.state(oldID); ok {
		s.mu.Lock()
		s.job.UpdatedAt = time.Now().Add(-2 * time.Hour)
		s.mu.Unlock()
	}

	freshID, _ := r.Create(context.Background(), KindValidation, "/data/new.gpkg")
	r.Complete(freshID, nil, nil)

	activeID, _ := r.Create(context.Background(), KindValidation, "/data/active.gpkg")
	if s, ok := r.state(activeID); ok {
		s.mu.Lock()
		s.job.UpdatedAt = time.Now().Add(-2 * time.Hour)
		s.mu.Unlock()
	}

	removed := r.SweepTerminal(time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := r.Get(oldID)
	assert.False(t, ok)
	_, ok = r.Get(freshID)
	assert.True(t, ok)
	_, ok = r.Get(activeID)
	assert.True(t, ok)
}

func TestListReturnsAllJobs(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Create(context.Background(), KindValidation, "/data/a.gpkg")
	}
	assert.Len(t, r.List(), 3)
}

// gatherMetricTotal sums every sample of the named metric family across its
// label combinations, optionally restricted to one label value.
func gatherMetricTotal(t *testing.T, name, labelName, labelValue string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelName != "" {
				matched := false
				for _, l := range m.GetLabel() {
					if l.GetName() == labelName && l.GetValue() == labelValue {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestTerminalTransitionLeavesRunCountersToOrchestrator(t *testing.T) {
	r := NewRegistry()

	runsBefore := gatherMetricTotal(t, "spatialqc_validation_runs_total", "", "")
	activeBefore := gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindValidation))

	id, _ := r.CreateValidationJob(context.Background(), "/data/a.gpkg")
	assert.Equal(t, activeBefore+1, gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindValidation)))

	r.Complete(id, nil, nil)

	assert.Equal(t, activeBefore, gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindValidation)))
	assert.Equal(t, runsBefore, gatherMetricTotal(t, "spatialqc_validation_runs_total", "", ""))
}

func TestActiveJobGaugeTracksKindsIndependently(t *testing.T) {
	r := NewRegistry()

	conversionBefore := gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindConversion))
	validationBefore := gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindValidation))

	id, _ := r.CreateConversionJob(context.Background(), "/data/a.shp")
	assert.Equal(t, conversionBefore+1, gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindConversion)))
	assert.Equal(t, validationBefore, gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindValidation)))

	require.True(t, r.Cancel(id))
	r.MarkCancelled(id)
	assert.Equal(t, conversionBefore, gatherMetricTotal(t, "spatialqc_active_job_count", "kind", string(KindConversion)))
}
