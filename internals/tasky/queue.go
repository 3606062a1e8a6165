package tasky

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue closed")

type job struct {
	ctx    context.Context
	run    func(ctx context.Context) error
	result chan error
}

// Serial runs submitted jobs one at a time in submission order. Each job
// observes the effects of every job submitted before it.
type Serial struct {
	jobs      chan job
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewSerial() *Serial {
	s := &Serial{
		jobs: make(chan job),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case j := <-s.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- err
				continue
			}
			j.result <- j.run(j.ctx)
		}
	}
}

// Do queues run and blocks until it has finished. A job whose context is done
// before its turn comes is skipped and reports the context error.
func (s *Serial) Do(ctx context.Context, run func(ctx context.Context) error) error {
	if run == nil {
		return errors.New("nil job")
	}
	j := job{ctx: ctx, run: run, result: make(chan error, 1)}
	select {
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.jobs <- j:
	}
	return <-j.result
}

// Close stops the worker after the job in flight, if any, completes.
func (s *Serial) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}
