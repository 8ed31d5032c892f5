package service

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// BatchConfig tunes bulk runs.
type BatchConfig struct {
	Size           int
	Delay          time.Duration
	MaxConcurrency int
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.Size <= 0 {
		c.Size = 10
	}
	if c.MaxConcurrency <= 0 || c.MaxConcurrency > c.Size {
		c.MaxConcurrency = c.Size
	}
	return c
}

// ProgressFunc receives progress after every settled batch.
type ProgressFunc func(model.BulkProgress)

// runBatches calls fn for every item. Batch N+1 starts only after every item
// of batch N settled; items within a batch run concurrently. An item error or
// panic is recorded at its index and never stops siblings. Items not started
// because ctx ended carry ctx's error.
func runBatches[T any](ctx context.Context, cfg BatchConfig, items []T, progress ProgressFunc, fn func(ctx context.Context, item T) error) []error {
	cfg = cfg.withDefaults()
	errs := make([]error, len(items))
	total := len(items)

	for start := 0; start < total; start += cfg.Size {
		if err := ctx.Err(); err != nil {
			for i := start; i < total; i++ {
				errs[i] = err
			}
			break
		}
		if start > 0 && cfg.Delay > 0 {
			if err := sleep(ctx, cfg.Delay); err != nil {
				for i := start; i < total; i++ {
					errs[i] = err
				}
				break
			}
		}

		end := min(start+cfg.Size, total)
		var g errgroup.Group
		g.SetLimit(cfg.MaxConcurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				errs[i] = safeCall(ctx, items[i], fn)
				return nil
			})
		}
		_ = g.Wait()

		logger.Debug(ctx, "batch settled", "completed", end, "total", total)
		if progress != nil {
			progress(model.BulkProgress{Completed: end, Total: total})
		}
	}
	return errs
}

func safeCall[T any](ctx context.Context, item T, fn func(ctx context.Context, item T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "bulk item panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()
	return fn(ctx, item)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProgressTracker holds the progress of every bulk run in flight. Each run
// has its own entry, so concurrent runs never reset or rewind each other.
type ProgressTracker struct {
	mu   sync.RWMutex
	next uint64
	runs map[uint64]*model.BulkProgress
}

// ProgressRun is the handle of one run registered with Start.
type ProgressRun struct {
	tracker *ProgressTracker
	id      uint64
}

// Start registers a run. Call Finish on the returned handle when it ends.
func (p *ProgressTracker) Start(total int) *ProgressRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runs == nil {
		p.runs = make(map[uint64]*model.BulkProgress)
	}
	p.next++
	p.runs[p.next] = &model.BulkProgress{Total: total}
	return &ProgressRun{tracker: p, id: p.next}
}

// Update never moves Completed backwards.
func (r *ProgressRun) Update(bp model.BulkProgress) {
	p := r.tracker
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.runs[r.id]
	if !ok {
		return
	}
	if bp.Completed > cur.Completed {
		cur.Completed = bp.Completed
	}
	cur.Total = bp.Total
}

// Finish drops the run on completion or abort.
func (r *ProgressRun) Finish() {
	p := r.tracker
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runs, r.id)
}

// Current returns the oldest run in flight, nil when idle.
func (p *ProgressTracker) Current() *model.BulkProgress {
	runs := p.Runs()
	if len(runs) == 0 {
		return nil
	}
	return &runs[0]
}

// Runs returns a copy of every run in flight, oldest first.
func (p *ProgressTracker) Runs() []model.BulkProgress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(p.runs))
	out := make([]model.BulkProgress, 0, len(ids))
	for _, id := range ids {
		out = append(out, *p.runs[id])
	}
	return out
}

// chain fans a progress update out to several listeners.
func chain(fns ...ProgressFunc) ProgressFunc {
	return func(bp model.BulkProgress) {
		for _, fn := range fns {
			if fn != nil {
				fn(bp)
			}
		}
	}
}
