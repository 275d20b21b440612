// Package pool provides a bounded worker pool used for background side-effects
// (presence mirror publishes, event submissions) that must never block the
// relay's connection handling.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is a unit of background work.
type Job struct {
	fn func() error
}

// Pool runs submitted jobs on a fixed set of workers behind a bounded queue.
// When the queue is full, Submit fails instead of blocking the caller.
type Pool struct {
	maxWorkers int
	jobQueue   chan *Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewPool(maxWorkers int, queueSize int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = maxWorkers * 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		maxWorkers: maxWorkers,
		jobQueue:   make(chan *Job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.executeJob(job)
		case <-p.ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case job, ok := <-p.jobQueue:
					if !ok {
						return
					}
					p.executeJob(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) executeJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic in pool worker: %v\nstack: %s", r, debug.Stack())
		}
	}()

	if err := job.fn(); err != nil {
		log.Debug().Err(err).Msg("Pool job failed.")
	}
}

// Submit queues fn for execution without blocking. It fails when the queue is
// full or the pool is shutting down.
func (p *Pool) Submit(fn func() error) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.jobQueue <- &Job{fn: fn}:
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// QueueSize returns the current number of queued jobs.
func (p *Pool) QueueSize() int {
	return len(p.jobQueue)
}

// Shutdown stops accepting jobs, drains the queue and waits for workers.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.jobQueue)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
