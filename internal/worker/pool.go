// Package worker runs fire-and-forget background tasks on a fixed pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/pkg/logger"
	"github.com/capitalize-ai/bill-assistant/pkg/metrics"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	Workers   int    `json:"workers"`
}

// Pool executes tasks on a fixed number of goroutines. Task outcomes are only
// logged; nothing flows back to the submitter.
type Pool struct {
	workers int
	timeout time.Duration
	tasks   chan Task
	logger  *logger.Logger

	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	mu     sync.RWMutex // guards closed against a concurrent close of tasks
	closed bool

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(workers, queueSize int, timeout time.Duration, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:    workers,
		timeout:    timeout,
		tasks:      make(chan Task, queueSize),
		logger:     log,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", zap.Int("workers", p.workers), zap.Int("queue", cap(p.tasks)))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues t without blocking. It reports false when the queue is full
// or the pool is stopped; the task is then dropped.
func (p *Pool) Submit(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(t, "pool stopped")
		return false
	}

	select {
	case p.tasks <- t:
		metrics.WorkerQueueDepth.Inc()
		return true
	default:
		p.drop(t, "queue full")
		return false
	}
}

func (p *Pool) drop(t Task, reason string) {
	p.dropped.Add(1)
	p.logger.Warn("background task dropped", zap.String("task", t.Name), zap.String("reason", reason))
	metrics.WorkerTasksTotal.WithLabelValues(t.Name, "dropped").Inc()
}

// Stop refuses new tasks, lets queued tasks finish and waits for the workers.
// Tasks still running when ctx ends are cancelled.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out, cancelling running tasks")
		p.cancelFunc()
		<-done
	}
	p.cancelFunc()
	p.logger.Info("worker pool stopped")
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.tasks),
		Workers:   p.workers,
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for t := range p.tasks {
		metrics.WorkerQueueDepth.Dec()
		err := p.run(t)

		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
		}

		outcome := "ok"
		if err != nil {
			outcome = "error"
			p.logger.Error("background task failed",
				zap.Int("worker_id", id),
				zap.String("task", t.Name),
				zap.Error(err),
			)
		}
		metrics.WorkerTasksTotal.WithLabelValues(t.Name, outcome).Inc()
	}
}

func (p *Pool) run(t Task) (err error) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if t.Run == nil {
		return errors.New("task has no body")
	}
	return t.Run(ctx)
}
