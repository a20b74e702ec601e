// Package workerpool runs queued tasks on a fixed set of workers with
// bounded retries.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("worker pool stopped")
	// ErrQueueFull is returned when the queue has no room
	ErrQueueFull = errors.New("worker pool queue full")
)

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Task is a unit of work
type Task struct {
	ID      string
	Payload interface{}
	// Context overrides the pool context for this task
	Context context.Context

	done chan error
}

// WorkerFunc processes one task
type WorkerFunc func(ctx context.Context, task *Task) error

// Config tunes the pool
type Config struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	StopTimeout time.Duration
}

// DefaultConfig returns the pool defaults
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		QueueSize:   1024,
		MaxRetries:  3,
		RetryDelay:  200 * time.Millisecond,
		StopTimeout: 30 * time.Second,
	}
}

// Pool runs tasks on Workers goroutines
type Pool struct {
	config Config
	fn     WorkerFunc
	logger *zap.Logger

	tasks chan *Task
	wg    sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	retried   int64
}

// New creates a pool; call Start to launch the workers
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: cfg,
		fn:     fn,
		logger: logger,
		tasks:  make(chan *Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues task without waiting for it
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait queues task and blocks until it finishes or ctx is done
func (p *Pool) SubmitWait(ctx context.Context, task *Task) error {
	task.done = make(chan error, 1)
	if err := p.Submit(task); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-task.done:
		return err
	}
}

// Stop rejects new tasks, drains the queue and waits up to StopTimeout
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.StopTimeout):
		p.cancel()
		p.logger.Warn("worker pool stop timed out, cancelling in-flight tasks")
		<-done
	}
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		err := p.run(task)
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
			p.logger.Error("task failed",
				zap.String("task_id", task.ID),
				zap.Int("worker_id", id),
				zap.Error(err))
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
		if task.done != nil {
			task.done <- err
		}
	}
}

func (p *Pool) run(task *Task) error {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = p.fn(ctx, task); err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.retried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}
	if IsPermanent(err) {
		return err
	}
	return fmt.Errorf("task %s failed after %d attempts: %w", task.ID, p.config.MaxRetries+1, err)
}

// Stats is a snapshot of pool counters
type Stats struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	Retried       int64
	QueueDepth    int
	QueueCapacity int
	Workers       int
}

// Stats returns the current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Failed:        atomic.LoadInt64(&p.failed),
		Retried:       atomic.LoadInt64(&p.retried),
		QueueDepth:    len(p.tasks),
		QueueCapacity: p.config.QueueSize,
		Workers:       p.config.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% full
func (p *Pool) IsHealthy() bool {
	return float64(len(p.tasks))/float64(p.config.QueueSize) < 0.9
}
