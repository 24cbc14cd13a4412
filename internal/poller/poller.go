// Package poller keeps a batch of render job snapshots fresh until every job
// reaches a terminal state.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adreel/studio/internal/model"
)

// DefaultInterval is the cadence between poll cycles.
const DefaultInterval = time.Second

// StatusFetcher resolves the next snapshot of a job. On error the returned
// snapshot is ignored.
type StatusFetcher interface {
	JobStatus(ctx context.Context, prev model.RenderJob) (model.RenderJob, error)
}

// Handlers receive batch events. Both run on the loop's goroutine and get
// their own copy of the batch.
type Handlers struct {
	OnUpdate   func(jobs []model.RenderJob)
	OnResolved func(jobs []model.RenderJob)
}

// Poller starts poll loops against a StatusFetcher.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
}

func New(fetcher StatusFetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{fetcher: fetcher, interval: interval}
}

// Loop is one running poll loop. It owns its batch; readers get copies.
type Loop struct {
	fetcher  StatusFetcher
	interval time.Duration
	handlers Handlers

	mu       sync.Mutex
	jobs     []model.RenderJob
	stalls   map[string]int
	cycles   int
	resolved bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches a loop for batch. The loop stops on its own once the batch
// is resolved, when ctx is done, or when Stop is called.
func (p *Poller) Start(ctx context.Context, batch []model.RenderJob, h Handlers) *Loop {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		fetcher:  p.fetcher,
		interval: p.interval,
		handlers: h,
		jobs:     append([]model.RenderJob(nil), batch...),
		stalls:   make(map[string]int),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

// Stop cancels the loop. In-flight requests are abandoned and their results
// discarded. Safe to call more than once and from any goroutine.
func (l *Loop) Stop() {
	l.cancel()
}

// Done is closed when the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the loop has exited.
func (l *Loop) Wait() {
	<-l.done
}

// Snapshot returns a copy of the current batch.
func (l *Loop) Snapshot() []model.RenderJob {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.RenderJob(nil), l.jobs...)
}

// Cycles returns the number of completed poll cycles.
func (l *Loop) Cycles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycles
}

// Resolved reports whether the loop ended because the batch resolved.
func (l *Loop) Resolved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolved
}

// StalledCycles returns how many consecutive cycles failed to refresh the job.
func (l *Loop) StalledCycles(jobID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stalls[jobID]
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.cancel()

	if model.BatchResolved(l.Snapshot()) {
		l.finish(ctx)
		return
	}

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, failed := l.cycle(ctx, l.Snapshot())
		if ctx.Err() != nil {
			return
		}

		l.mu.Lock()
		l.jobs = next
		l.cycles++
		for i, job := range next {
			if failed[i] {
				l.stalls[job.ID]++
			} else {
				delete(l.stalls, job.ID)
			}
		}
		resolved := model.BatchResolved(next)
		l.mu.Unlock()

		if l.handlers.OnUpdate != nil {
			l.handlers.OnUpdate(l.Snapshot())
		}

		if resolved {
			l.finish(ctx)
			return
		}

		timer.Reset(l.interval)
	}
}

func (l *Loop) finish(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	l.resolved = true
	l.mu.Unlock()

	log.Printf("[Poller] batch resolved after %d cycles", l.Cycles())
	if l.handlers.OnResolved != nil {
		l.handlers.OnResolved(l.Snapshot())
	}
}

// cycle polls every non-terminal job concurrently and waits for all of them.
// Terminal jobs pass through without a request. A failed poll keeps the
// previous snapshot for this cycle.
func (l *Loop) cycle(ctx context.Context, jobs []model.RenderJob) ([]model.RenderJob, []bool) {
	next := append([]model.RenderJob(nil), jobs...)
	failed := make([]bool, len(jobs))

	var g errgroup.Group
	for i, job := range jobs {
		if job.IsTerminal() {
			continue
		}
		i, job := i, job
		g.Go(func() error {
			polled, err := l.fetcher.JobStatus(ctx, job)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[Poller] poll %s failed, keeping last snapshot: %v", job.ID, err)
				}
				failed[i] = true
				return nil
			}
			merged, ok := model.Merge(job, polled)
			if !ok {
				log.Printf("[Poller] poll %s returned snapshot for %s, ignoring", job.ID, polled.ID)
				failed[i] = true
				return nil
			}
			next[i] = merged
			return nil
		})
	}
	_ = g.Wait()

	return next, failed
}
