package server

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/contract-review/internal/contractreview"
)

var (
	ErrQueueFull        = errors.New("analysis queue is full")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// Job is one queued analysis.
type Job struct {
	Token   string
	Request contractreview.RequestEnvelope
}

// Dispatcher runs queued jobs on a fixed pool of workers. The queue is
// bounded; Submit never blocks.
type Dispatcher struct {
	jobs chan Job
	exec func(context.Context, Job)

	mu     sync.RWMutex
	closed bool
	group  errgroup.Group
}

// NewDispatcher starts workers that call exec for every submitted job. ctx is
// handed to exec; cancelling it makes in-flight runs fail fast as cancelled.
func NewDispatcher(ctx context.Context, workers, queueSize int, exec func(context.Context, Job)) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		jobs: make(chan Job, queueSize),
		exec: exec,
	}
	for range workers {
		d.group.Go(func() error {
			for job := range d.jobs {
				d.exec(ctx, job)
			}
			return nil
		})
	}
	return d
}

func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports how many jobs are waiting for a worker.
func (d *Dispatcher) Depth() int {
	return len(d.jobs)
}

// Close stops accepting jobs and waits until every queued job has run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	_ = d.group.Wait()
}
