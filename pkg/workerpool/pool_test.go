package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRetriesUntilSuccess(t *testing.T) {
	var calls int32
	p, err := New(Config{Workers: 2, QueueSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond}, func(ctx context.Context, task *Task) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.SubmitWait(context.Background(), &Task{ID: "t1"}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(2), stats.Retried)
}

func TestPoolPermanentErrorStopsRetries(t *testing.T) {
	var calls int32
	bad := errors.New("malformed")
	p, err := New(Config{Workers: 1, QueueSize: 1, MaxRetries: 5, RetryDelay: time.Millisecond}, func(ctx context.Context, task *Task) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(bad)
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	err = p.SubmitWait(context.Background(), &Task{ID: "t1"})
	assert.ErrorIs(t, err, bad)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoolExhaustsRetries(t *testing.T) {
	p, err := New(Config{Workers: 1, QueueSize: 1, MaxRetries: 2, RetryDelay: time.Millisecond}, func(ctx context.Context, task *Task) error {
		return errors.New("down")
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	err = p.SubmitWait(context.Background(), &Task{ID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestPoolRejectsAfterStop(t *testing.T) {
	p, err := New(Config{Workers: 1}, func(context.Context, *Task) error { return nil }, nil)
	require.NoError(t, err)
	p.Start()
	p.Stop()
	p.Stop()

	assert.ErrorIs(t, p.Submit(&Task{ID: "late"}), ErrStopped)
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	p, err := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) error {
		<-release
		return nil
	}, nil)
	require.NoError(t, err)

	// Not started: the single queue slot fills and the next submit is rejected.
	require.NoError(t, p.Submit(&Task{ID: "a"}))
	assert.ErrorIs(t, p.Submit(&Task{ID: "b"}), ErrQueueFull)
	assert.False(t, p.IsHealthy())

	close(release)
	p.Start()
	p.Stop()
	assert.Equal(t, int64(1), p.Stats().Completed)
}

func TestNewRequiresFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}
