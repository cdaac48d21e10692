package cache

import (
	"context"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// Sweepable is implemented by every typed cache the sweeper maintains.
type Sweepable interface {
	Name() string
	RemoveIdleSince(cutoff time.Time) int
}

// Sweeper periodically walks all registered caches and drops entries idle
// beyond the max-age threshold. A failing sweep is logged, never fatal.
type Sweeper struct {
	interval time.Duration
	maxIdle  time.Duration

	mu      sync.Mutex
	targets []Sweepable
}

func NewSweeper(interval, maxIdle time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	return &Sweeper{interval: interval, maxIdle: maxIdle}
}

// Register adds a cache to the sweep set.
func (s *Sweeper) Register(target Sweepable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
}

// Run blocks until ctx is cancelled, sweeping at jittered intervals.
// Callers start it with `go sweeper.Run(ctx)`.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := jitterbug.New(s.interval, &jitterbug.Norm{Stdev: 500 * time.Millisecond})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Named("cache").Errorf("sweep panic recovered: %v", r)
		}
	}()

	cutoff := time.Now().Add(-s.maxIdle)

	s.mu.Lock()
	targets := make([]Sweepable, len(s.targets))
	copy(targets, s.targets)
	s.mu.Unlock()

	for _, t := range targets {
		removed := t.RemoveIdleSince(cutoff)
		if removed > 0 {
			zap.S().Named("cache").Infof("sweep removed %d idle entries from %q", removed, t.Name())
		}
	}
}
