package system

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of work handed to a Scheduler.
type Job func(ctx context.Context) error

// Scheduler runs a batch of jobs and waits for all of them.
type Scheduler interface {
	Run(ctx context.Context, jobs []Job) error
}

// Pool runs jobs on up to Workers goroutines. The first error cancels the
// context passed to the remaining jobs and is returned.
type Pool struct {
	Workers int
}

func NewPool(workers int) *Pool {
	return &Pool{Workers: workers}
}

func (p *Pool) Run(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}
	for _, job := range jobs {
		g.Go(func() error {
			return job(gctx)
		})
	}
	return g.Wait()
}

// Serial runs jobs one after another on the calling goroutine.
type Serial struct{}

func (Serial) Run(ctx context.Context, jobs []Job) error {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := job(ctx); err != nil {
			return err
		}
	}
	return nil
}
