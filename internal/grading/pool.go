package grading

import (
	"context"
	"log/slog"
	"sync"
)

// JobFunc grades one assignment token.
type JobFunc func(ctx context.Context, token string) error

// Pool runs grading jobs on a fixed number of workers. A token that is
// queued or being graded is not queued again.
type Pool struct {
	run     JobFunc
	workers int
	jobs    chan string

	mu      sync.Mutex
	pending map[string]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a pool. Call Start before Enqueue has any effect.
func NewPool(workers, queueSize int, run JobFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		run:     run,
		workers: workers,
		jobs:    make(chan string, queueSize),
		pending: map[string]bool{},
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := range p.workers {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	slog.Info("grading pool started", "workers", p.workers, "queue", cap(p.jobs))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case token := <-p.jobs:
			if err := p.run(ctx, token); err != nil {
				slog.Error("grading job failed", "worker", id, "token", token, "error", err)
			}
			p.mu.Lock()
			delete(p.pending, token)
			p.mu.Unlock()
		}
	}
}

// Enqueue schedules token for grading. It reports false when the token is
// already queued or running, or the queue is full; the sweeper picks those
// up later.
func (p *Pool) Enqueue(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[token] {
		return false
	}
	select {
	case p.jobs <- token:
		p.pending[token] = true
		return true
	default:
		slog.Warn("grading queue full", "token", token)
		return false
	}
}

// Pending returns the number of queued and running jobs.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Stop cancels the workers and waits for running jobs to return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
