// Package pool runs one crawl per source with bounded concurrency. Sources
// never share state: a failing, panicking or hung source only fails itself.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"news_spider/internal/crawl"
	"news_spider/internal/logger"

	"golang.org/x/sync/errgroup"
)

var (
	ErrSourceTimeout = errors.New("source exceeded its time budget")
	ErrSourcePanic   = errors.New("source panicked")
)

// RunFunc crawls one source. ctx is the hard deadline; stop asks for a
// graceful finish after the current page.
type RunFunc func(ctx context.Context, stop <-chan struct{}) (*crawl.Result, error)

type Job struct {
	Name string
	Run  RunFunc
	// Progress, when set, reports partial counters of a run that never
	// returned (hard timeout or panic).
	Progress func() *crawl.Result
}

// Outcome is the result of one job. Result holds the counters Run returned
// or, when Run never returned, the job's last Progress report; it is nil
// when neither is available.
type Outcome struct {
	Name       string
	Result     *crawl.Result
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type Pool struct {
	workers int
	timeout time.Duration
	log     logger.Interface
}

// New returns a pool running at most workers sources at once, each
// abandoned after timeout. A zero timeout disables the ceiling.
func New(workers int, timeout time.Duration, log logger.Interface) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pool{workers: workers, timeout: timeout, log: log}
}

// Run executes every job and returns their outcomes in job order. Cancelling
// ctx closes the stop channel of running jobs and skips jobs not yet started.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = p.runOne(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

type finished struct {
	res *crawl.Result
	err error
}

func (p *Pool) runOne(ctx context.Context, job Job) Outcome {
	out := Outcome{Name: job.Name, StartedAt: time.Now()}
	log := p.log.With("source", job.Name)

	if err := ctx.Err(); err != nil {
		out.Err = fmt.Errorf("not started: %w", err)
		out.FinishedAt = out.StartedAt
		return out
	}

	// the hard deadline must outlive a shutdown request so the current
	// page can finish
	hardCtx, cancel := p.hardContext(ctx)
	defer cancel()

	done := make(chan finished, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- finished{err: fmt.Errorf("%w: %v", ErrSourcePanic, r)}
			}
		}()
		res, err := job.Run(hardCtx, ctx.Done())
		done <- finished{res: res, err: err}
	}()

	log.Info("source started")

	select {
	case f := <-done:
		out.Result, out.Err = f.res, f.err
		if out.Err != nil && errors.Is(out.Err, context.DeadlineExceeded) && hardCtx.Err() != nil {
			out.Err = fmt.Errorf("after %s: %w", p.timeout, ErrSourceTimeout)
		}
	case <-hardCtx.Done():
		// the crawl goroutine is left to unwind on its own
		out.Err = fmt.Errorf("after %s: %w", p.timeout, ErrSourceTimeout)
	}
	if out.Result == nil && job.Progress != nil {
		out.Result = job.Progress()
	}
	out.FinishedAt = time.Now()

	if out.Err != nil {
		log.Error("source failed", "error", out.Err, "duration", out.FinishedAt.Sub(out.StartedAt))
	} else {
		log.Info("source finished", "duration", out.FinishedAt.Sub(out.StartedAt))
	}
	return out
}

func (p *Pool) hardContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if p.timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, p.timeout)
}
