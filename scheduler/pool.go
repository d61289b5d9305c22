// Package scheduler provides the bounded fan-out worker pool used for
// per-entity enrichment and envelope build.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/telemetry"
)

// Task is one unit of per-entity work.
type Task func() error

// Pool runs tasks on a bounded set of workers over a bounded queue. Core
// workers run for the pool's lifetime; extra workers up to the max spawn when
// the queue backs up and exit when it drains. When the queue is full and the
// worker ceiling is reached, Submit runs the task on the calling goroutine,
// which throttles producers instead of growing memory or rejecting work.
type Pool struct {
	queue   chan job
	core    int
	max     int
	workers atomic.Int32
	active  atomic.Int32
	wg      sync.WaitGroup
	closed  atomic.Bool
}

type job struct {
	task    Task
	promise *future.Promise[error]
}

// NewPool creates and starts a pool.
func NewPool(core, max, queueCapacity int) (*Pool, error) {
	if core < 1 || max < core || queueCapacity < 1 {
		return nil, fmt.Errorf("invalid pool sizing: core=%d max=%d queue=%d", core, max, queueCapacity)
	}

	p := &Pool{
		queue: make(chan job, queueCapacity),
		core:  core,
		max:   max,
	}
	for i := 0; i < core; i++ {
		p.spawn(true)
	}

	log.Info().
		Int("core", core).
		Int("max", max).
		Int("queue", queueCapacity).
		Msg("Fan-out pool started")
	return p, nil
}

func (p *Pool) spawn(permanent bool) {
	p.workers.Add(1)
	p.wg.Add(1)
	go func() {
		defer func() {
			p.workers.Add(-1)
			p.wg.Done()
		}()
		for j := range p.queue {
			p.run(j)
			if !permanent && len(p.queue) == 0 {
				return
			}
		}
	}()
}

func (p *Pool) run(j job) {
	p.active.Add(1)
	telemetry.PoolActiveWorkers.Set(float64(p.active.Load()))
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Fan-out task panicked")
			j.promise.Set(fmt.Errorf("task panicked: %v", r), nil)
		}
		p.active.Add(-1)
		telemetry.PoolActiveWorkers.Set(float64(p.active.Load()))
	}()

	j.promise.Set(j.task(), nil)
}

// Submit schedules a task and returns a future resolving to the task's
// error. The queue is tried first; a full queue spawns an extra worker while
// below the max; otherwise the task runs synchronously on the caller.
func (p *Pool) Submit(task Task) *future.Future[error] {
	promise := future.NewPromise[error]()
	j := job{task: task, promise: promise}

	if p.closed.Load() {
		promise.Set(fmt.Errorf("pool is closed"), nil)
		return promise.Future()
	}

	select {
	case p.queue <- j:
		return promise.Future()
	default:
	}

	if int(p.workers.Load()) < p.max {
		p.spawn(false)
		select {
		case p.queue <- j:
			return promise.Future()
		default:
		}
	}

	// Caller-runs backpressure
	telemetry.PoolCallerRunsTotal.Inc()
	p.run(j)
	return promise.Future()
}

// Join waits for every future in the slice and returns the per-task errors
// in submission order (nil entries for successes). This is the cycle's join
// barrier: it returns only after all dispatched work has finished.
func Join(futures []*future.Future[error]) []error {
	errs := make([]error, len(futures))
	for i, f := range futures {
		taskErr, _ := f.Get()
		errs[i] = taskErr
	}
	return errs
}

// Close drains the queue and stops all workers.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
	log.Info().Msg("Fan-out pool stopped")
}
