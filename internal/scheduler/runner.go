package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Runner is the process-wide job registry and timer source. Jobs are
// keyed by schedule id and checked against their cron expression once
// per minute. One Runner is constructed per process; Stop halts the
// timer without awaiting in-flight callbacks.
type Runner struct {
	mu     sync.Mutex
	jobs   map[int64]cronJob
	gron   *gronx.Gronx
	stopCh chan struct{}
	stop   sync.Once
}

type cronJob struct {
	expr string
	fn   func()
}

// NewRunner creates an empty Runner.
func NewRunner() *Runner {
	return &Runner{
		jobs:   make(map[int64]cronJob),
		gron:   gronx.New(),
		stopCh: make(chan struct{}),
	}
}

// Upsert registers or replaces the job for a schedule id.
func (r *Runner) Upsert(id int64, expr string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = cronJob{expr: expr, fn: fn}
}

// Remove unregisters the job for a schedule id. Removing an absent id
// is a no-op.
func (r *Runner) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Has reports whether a job is registered for a schedule id.
func (r *Runner) Has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[id]
	return ok
}

// Len returns the number of registered jobs.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Start launches the minute ticker. Each due job runs on its own
// goroutine so one slow dispatch never delays another.
func (r *Runner) Start() {
	go func() {
		// Align to the next minute boundary so expressions fire at the
		// minute they name.
		timer := time.NewTimer(time.Until(time.Now().Truncate(time.Minute).Add(time.Minute)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-r.stopCh:
			return
		}
		r.tick(time.Now())

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case t := <-ticker.C:
				r.tick(t)
			case <-r.stopCh:
				return
			}
		}
	}()
}

// tick fires every job whose expression is due at t.
func (r *Runner) tick(t time.Time) {
	t = t.Truncate(time.Minute)

	r.mu.Lock()
	due := make([]func(), 0)
	for id, job := range r.jobs {
		ok, err := r.gron.IsDue(job.expr, t)
		if err != nil {
			log.Printf("调度表达式检查失败 (ID: %d): %v", id, err)
			continue
		}
		if ok {
			due = append(due, job.fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range due {
		go fn()
	}
}

// Stop halts the timer source. No further jobs fire; in-flight
// callbacks are not awaited. Safe to call more than once.
func (r *Runner) Stop() {
	r.stop.Do(func() { close(r.stopCh) })
}
