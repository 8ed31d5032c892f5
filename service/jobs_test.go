package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/notify"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
)

func TestJobRegistrySubmit(t *testing.T) {
	sender := &notify.Recorder{}
	reg := NewJobRegistry(10, sender)
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), logger.UsernameKey, "ops@example.com"))
	job, err := reg.Submit(ctx, "generate", 3, "ops@example.com", func(ctx context.Context, progress ProgressFunc) model.BulkResult {
		return h.gen.GenerateBulk(ctx, bulkItems(3), progress)
	})
	require.NoError(t, err)
	require.Equal(t, JobRunning, job.Status)
	require.Equal(t, "ops@example.com", job.RequestedBy)
	// The job outlives the request.
	cancel()
	reg.Wait()

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, JobCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.Equal(t, 3, got.Result.Successful)
	require.Equal(t, model.BulkProgress{Completed: 3, Total: 3}, got.Progress)

	msgs := sender.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "ops@example.com", msgs[0].To)
	require.Contains(t, msgs[0].Subject, "3 of 3 succeeded")
}

func TestJobRegistryWithoutNotification(t *testing.T) {
	sender := &notify.Recorder{}
	reg := NewJobRegistry(0, sender)

	job, err := reg.Submit(context.Background(), "delete", 1, "", func(context.Context, ProgressFunc) model.BulkResult {
		return model.BulkResult{TotalProcessed: 1, Successful: 1}
	})
	require.NoError(t, err)
	reg.Wait()

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, JobCompleted, got.Status)
	require.Empty(t, sender.Messages())
}

func TestJobRegistryNotificationFailure(t *testing.T) {
	reg := NewJobRegistry(0, &notify.Recorder{Err: errors.New("mail api down")})
	job, err := reg.Submit(context.Background(), "generate", 1, "ops@example.com", func(context.Context, ProgressFunc) model.BulkResult {
		return model.BulkResult{TotalProcessed: 1, Failed: 1}
	})
	require.NoError(t, err)
	reg.Wait()

	got, err := reg.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, JobCompleted, got.Status)
}

func TestJobRegistryErrors(t *testing.T) {
	reg := NewJobRegistry(0, nil)
	_, err := reg.Submit(context.Background(), "generate", 0, "", nil)
	require.ErrorIs(t, err, ErrEmptyJob)

	_, err = reg.Get("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobRegistryCleanupKeepsRunning(t *testing.T) {
	reg := NewJobRegistry(2, nil)
	release := make(chan struct{})
	blocking := func(ctx context.Context, _ ProgressFunc) model.BulkResult {
		<-release
		return model.BulkResult{TotalProcessed: 1, Successful: 1}
	}
	quick := func(context.Context, ProgressFunc) model.BulkResult {
		return model.BulkResult{TotalProcessed: 1, Successful: 1}
	}

	running, err := reg.Submit(context.Background(), "generate", 1, "", blocking)
	require.NoError(t, err)
	first, err := reg.Submit(context.Background(), "generate", 1, "", quick)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := reg.Get(first.ID)
		return err == nil && j.Status == JobCompleted
	}, time.Second, 5*time.Millisecond)

	_, err = reg.Submit(context.Background(), "generate", 1, "", quick)
	require.NoError(t, err)

	require.Equal(t, 2, reg.Count())
	_, err = reg.Get(running.ID)
	require.NoError(t, err)
	_, err = reg.Get(first.ID)
	require.ErrorIs(t, err, ErrJobNotFound)

	close(release)
	reg.Wait()
}
