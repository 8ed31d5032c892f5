package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/notify"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/google/uuid"
)

var ErrEmptyJob = errors.New("no items to process")

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
)

// Job is an asynchronous bulk run.
type Job struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Status      JobStatus          `json:"status"`
	Progress    model.BulkProgress `json:"progress"`
	Result      *model.BulkResult  `json:"result,omitempty"`
	RequestedBy string             `json:"requested_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

// JobFunc does the work of a job and reports progress through the callback.
type JobFunc func(ctx context.Context, progress ProgressFunc) model.BulkResult

// JobRegistry runs bulk jobs in the background and keeps the newest maxJobs.
type JobRegistry struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	maxJobs int // Maximum jobs to keep, 0 = unlimited
	sender  notify.Sender
	wg      sync.WaitGroup
}

func NewJobRegistry(maxJobs int, sender notify.Sender) *JobRegistry {
	if maxJobs < 0 {
		maxJobs = 0
	}
	return &JobRegistry{
		jobs:    make(map[string]*Job),
		maxJobs: maxJobs,
		sender:  sender,
	}
}

// Submit starts fn in the background. The job outlives the request that
// submitted it. When notifyTo is set, a summary email goes out on completion.
func (r *JobRegistry) Submit(ctx context.Context, kind string, total int, notifyTo string, fn JobFunc) (*Job, error) {
	if total == 0 {
		return nil, ErrEmptyJob
	}
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobRunning,
		Progress:  model.BulkProgress{Total: total},
		CreatedAt: time.Now(),
	}
	if v, ok := ctx.Value(logger.UsernameKey).(string); ok {
		job.RequestedBy = v
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.cleanupIfNeeded()
	snapshot := *job
	r.mu.Unlock()

	jobCtx := logger.With(context.WithoutCancel(ctx), logger.JobIDKey, job.ID)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		logger.Info(jobCtx, "job started", "kind", kind, "total", total)

		result := fn(jobCtx, func(bp model.BulkProgress) { r.update(job.ID, bp) })
		r.finish(job.ID, result)

		logger.Info(jobCtx, "job finished", "successful", result.Successful, "failed", result.Failed)
		if notifyTo != "" {
			r.notify(jobCtx, kind, notifyTo, result)
		}
	}()

	return &snapshot, nil
}

func (r *JobRegistry) update(id string, bp model.BulkProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok && bp.Completed >= job.Progress.Completed {
		job.Progress = bp
	}
}

func (r *JobRegistry) finish(id string, result model.BulkResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.Status = JobCompleted
	job.Result = &result
	job.Progress.Completed = job.Progress.Total
	job.FinishedAt = &now
}

func (r *JobRegistry) notify(ctx context.Context, kind, to string, result model.BulkResult) {
	if r.sender == nil {
		return
	}
	subject := fmt.Sprintf("Bulk %s finished: %d of %d succeeded", kind, result.Successful, result.TotalProcessed)
	text := fmt.Sprintf("Processed %d items.\nSuccessful: %d (partial: %d)\nFailed: %d\n",
		result.TotalProcessed, result.Successful, result.Partial, result.Failed)
	html := fmt.Sprintf("<p>Processed %d items.</p><ul><li>Successful: %d (partial: %d)</li><li>Failed: %d</li></ul>",
		result.TotalProcessed, result.Successful, result.Partial, result.Failed)

	id, err := r.sender.Send(ctx, notify.Message{To: to, Subject: subject, HTMLBody: html, TextBody: text})
	if err != nil {
		logger.Warn(ctx, "completion email failed", "to", to, "error", err)
		return
	}
	logger.Info(ctx, "completion email sent", "message_id", id)
}

// Get returns a copy of the job.
func (r *JobRegistry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// Wait blocks until every submitted job finished.
func (r *JobRegistry) Wait() {
	r.wg.Wait()
}

// Count returns the number of jobs held
func (r *JobRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// cleanupIfNeeded drops the oldest finished jobs once over maxJobs. Running
// jobs are never dropped.
// Must be called with lock held
func (r *JobRegistry) cleanupIfNeeded() {
	if r.maxJobs <= 0 || len(r.jobs) <= r.maxJobs {
		return
	}

	finished := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if j.Status != JobRunning {
			finished = append(finished, j)
		}
	}
	sort.Slice(finished, func(i, k int) bool {
		return finished[i].CreatedAt.Before(finished[k].CreatedAt)
	})

	removeCount := len(r.jobs) - r.maxJobs
	for i := 0; i < removeCount && i < len(finished); i++ {
		slog.Info("auto-cleaning old job", "job_id", finished[i].ID, "created_at", finished[i].CreatedAt)
		delete(r.jobs, finished[i].ID)
	}
}
