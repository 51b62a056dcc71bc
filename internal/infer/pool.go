package infer

import (
	"context"
	"log"
)

// Pool bounds concurrent inference to the number of available device slots.
// Sessions share one pool; a session goroutine waiting for a slot is
// suspended, never spinning, so its receiver keeps draining the client.
type Pool struct {
	jobs chan poolJob
	done chan struct{}
}

type poolJob struct {
	ctx   context.Context
	fn    func() error
	reply chan error
}

// NewPool starts workers goroutines. One worker per inference device is
// sufficient; extra sessions queue.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan poolJob),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.done:
			return
		case job := <-p.jobs:
			if job.ctx.Err() != nil {
				job.reply <- job.ctx.Err()
				continue
			}
			job.reply <- job.fn()
		}
	}
}

// Do runs fn on a pool worker and waits for it. Returns the context error
// when the caller is cancelled before a worker picks the job up.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case p.jobs <- poolJob{ctx: ctx, fn: fn, reply: reply}:
		return <-reply
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return context.Canceled
	}
}

// Close stops the workers. Queued-but-unstarted jobs are abandoned.
func (p *Pool) Close() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
		log.Printf("[Infer] worker pool closed")
	}
}
