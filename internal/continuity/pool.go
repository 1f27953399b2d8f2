package continuity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Synthesis-pool defaults.
const (
	defaultPoolWorkers  = 2
	defaultPoolQueue    = 32
	defaultSynthTimeout = 2 * time.Minute
)

// synthJob is one queued synthesis run.
type synthJob struct {
	key string
	fn  func(ctx context.Context)
}

// synthPool is a bounded worker pool with per-key deduplication:
// submissions for a key that is already pending or running are dropped.
// This gives the "at most one in-flight synthesis per (entity, user)"
// guarantee without any coordination in the callers.
type synthPool struct {
	mu      sync.Mutex
	pending map[string]struct{}
	jobs    chan synthJob
	timeout time.Duration
	wg      sync.WaitGroup
	closed  bool
}

// newSynthPool starts workers goroutines draining a queue of the given
// capacity. Each job runs under its own timeout context.
func newSynthPool(workers, queue int, timeout time.Duration) *synthPool {
	if workers <= 0 {
		workers = defaultPoolWorkers
	}
	if queue <= 0 {
		queue = defaultPoolQueue
	}
	if timeout <= 0 {
		timeout = defaultSynthTimeout
	}

	p := &synthPool{
		pending: make(map[string]struct{}),
		jobs:    make(chan synthJob, queue),
		timeout: timeout,
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *synthPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *synthPool) run(job synthJob) {
	defer func() {
		p.mu.Lock()
		delete(p.pending, job.key)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	job.fn(ctx)
}

// Submit enqueues fn under key. Returns false when the submission was
// dropped: the key is already in flight, the queue is full, or the pool
// is closed.
func (p *synthPool) Submit(key string, fn func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if _, inFlight := p.pending[key]; inFlight {
		p.mu.Unlock()
		return false
	}
	p.pending[key] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- synthJob{key: key, fn: fn}:
		return true
	default:
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
		slog.Warn("continuity: synthesis queue full, dropping", "key", key)
		return false
	}
}

// Close stops accepting submissions and waits for in-flight jobs.
func (p *synthPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}
