package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitWait(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{Workers: 2, QueueSize: 4})
	defer p.Close()

	var ran atomic.Bool
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestSubmitWaitPropagatesError(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	defer p.Close()

	want := errors.New("boom")
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error { return want })
	assert.ErrorIs(t, err, want)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestSubmitWaitContextTimeout(t *testing.T) {
	p := NewWorkerPool(WorkerPoolConfig{Workers: 1, QueueSize: 1})
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.SubmitWait(ctx, func(taskCtx context.Context) error {
		<-taskCtx.Done()
		return taskCtx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPanicRecovered(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("exploded")
	})
	assert.EqualError(t, err, "task panicked")
}

func TestClosedPoolRejects(t *testing.T) {
	p := NewWorkerPool(DefaultWorkerPoolConfig())
	p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)

	err = p.TrySubmit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
