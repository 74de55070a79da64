// Package pool schedules memory-costly external computations under a global
// virtual-memory budget.
//
// Each job carries a user-supplied estimate of its peak memory usage. A Pool
// admits a job only when enough budget remains, polls running jobs for exit,
// reclaims budget on completion and reports pool status.
//
// ## Lifecycle modes:
// A Static pool knows its full job list at construction and terminates once
// every job has finished. A Dynamic pool accepts submissions until End is
// called, then drains.
//
// ## Admission:
// Each scheduling tick scans the pending queue head-first and admits every
// job whose reservation succeeds. The scan does not stop at the first job
// that fails admission, so a large job waiting for memory never starves
// smaller jobs behind it.
//
// ## Concurrency:
// One scheduling loop runs per Pool, driven by Run or by direct Tick calls.
// Submit, End, Snapshot and History are safe to call from other goroutines.
// The pool never preempts or kills a running process; End only stops new
// admissions.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultTickInterval is the pause between scheduling passes when the loop
// is driven by Run.
const DefaultTickInterval = time.Second

// Pool is an admission-controlled scheduler for external processes.
type Pool struct {
	mutex sync.Mutex // protects all fields below; Tick holds it for a full pass

	id         string
	mode       Mode
	phase      Phase
	closed     bool
	inbox      []*job // submitted but not yet drained into pending
	pending    []*job // awaiting admission, in submission order
	running    []*job
	finished   []*job // completed, failed and rejected, in finish order
	accountant Accountant
	launcher   Launcher
	interval   time.Duration
	started    time.Time
	ended      time.Time

	maxID atomic.Uint64
}

// Option is a functional option for a Pool.
type Option func(*Pool)

// WithCapacity sets a fixed budget in bytes instead of detecting the
// system's available memory.
func WithCapacity(capacity uint64) Option {
	return func(p *Pool) {
		p.accountant = NewAccountant(capacity)
	}
}

// WithAccountant sets the budget accountant. Useful for tests and for the
// explicit unbounded mode.
func WithAccountant(a Accountant) Option {
	return func(p *Pool) {
		p.accountant = a
	}
}

// WithLauncher sets the process launch capability. Defaults to
// ExecLauncher.
func WithLauncher(l Launcher) Option {
	return func(p *Pool) {
		p.launcher = l
	}
}

// WithTickInterval sets the pause between scheduling passes in Run.
func WithTickInterval(d time.Duration) Option {
	return func(p *Pool) {
		p.interval = d
	}
}

// NewDynamic creates a Dynamic pool that accepts submissions until End is
// called. If no capacity is configured, the budget is the system's available
// memory at creation; if that cannot be detected, the pool runs unbounded
// and says so.
func NewDynamic(opts ...Option) *Pool {
	return newPool(Dynamic, opts...)
}

// NewStatic creates a Static pool with its full job list fixed at creation.
// Jobs whose cost exceeds the pool capacity are recorded as rejected and
// never enter the pending queue.
func NewStatic(specs []JobSpec, opts ...Option) *Pool {
	p := newPool(Static, opts...)
	for _, spec := range specs {
		j := p.newJob(spec)
		if p.rejects(spec.Cost) {
			j.state = Rejected
			p.finished = append(p.finished, j)
			slog.Warn("job rejected, cost exceeds pool capacity",
				"pool", p.id, "id", j.id, "cost", spec.Cost, "capacity", p.accountant.Capacity())
			continue
		}
		p.pending = append(p.pending, j)
	}
	return p
}

func newPool(mode Mode, opts ...Option) *Pool {
	p := &Pool{
		id:       uuid.NewString(),
		mode:     mode,
		phase:    Idle,
		launcher: ExecLauncher{},
		interval: DefaultTickInterval,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.accountant == nil {
		p.accountant = DetectAccountant()
	}
	if p.accountant.Unbounded() {
		slog.Warn("pool budget is unbounded, jobs may oversubscribe memory", "pool", p.id)
	}
	return p
}

// ID returns the pool's unique identifier.
func (p *Pool) ID() string {
	return p.id
}

// Submit queues a new job on a Dynamic pool and returns its ID.
//
// It fails with ErrCostExceedsCapacity if the job could never be admitted;
// such a job is recorded as rejected and never enters the pending queue. It
// fails with ErrPoolClosed on a Static pool, and on a Dynamic pool once End
// has been called.
func (p *Pool) Submit(spec JobSpec) (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.mode == Static {
		return "", fmt.Errorf("%w: static pool job list is fixed at creation", ErrPoolClosed)
	}
	if p.closed {
		return "", fmt.Errorf("%w: cannot submit after End", ErrPoolClosed)
	}
	j := p.newJob(spec)
	if p.rejects(spec.Cost) {
		j.state = Rejected
		p.finished = append(p.finished, j)
		return "", fmt.Errorf("%w: job cost %d exceeds pool capacity %d",
			ErrCostExceedsCapacity, spec.Cost, p.accountant.Capacity())
	}
	p.inbox = append(p.inbox, j)
	return j.id, nil
}

// End closes a Dynamic pool to further submissions. Jobs already pending or
// running continue through normal admission and monitoring; the pool
// terminates once both are empty. End is idempotent and a no-op on Static
// pools, which need no explicit close.
func (p *Pool) End() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.mode != Dynamic || p.closed {
		return
	}
	p.closed = true
	if p.phase == Active {
		p.phase = Draining
	}
	slog.Info("pool closed to submissions", "pool", p.id,
		"pending", len(p.pending)+len(p.inbox), "running", len(p.running))
}

// Tick executes one scheduling pass: monitor running jobs first so finished
// jobs free their budget, then admit pending jobs into the freed budget.
// Callers needing synchronous behavior may drive Tick directly instead of
// Run.
func (p *Pool) Tick() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.phase == Terminated {
		return
	}
	if p.phase == Idle {
		p.phase = Active
	}
	if p.closed && p.phase == Active {
		p.phase = Draining
	}
	p.pending = append(p.pending, p.inbox...)
	p.inbox = nil
	p.monitor()
	p.admit()
	p.advancePhase()
}

// Run drives Tick at the configured interval until the pool terminates or
// ctx is canceled. A Dynamic pool that has not been ended runs until ctx is
// canceled.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.Tick()
		if p.Phase() == Terminated {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Phase returns the pool's current lifecycle phase.
func (p *Pool) Phase() Phase {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.phase
}

// Snapshot returns a consistent, read-only view of the pool. It is taken
// between ticks, never mid-mutation.
func (p *Pool) Snapshot() Snapshot {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	running := make([]RunningJob, len(p.running))
	for i, j := range p.running {
		running[i] = RunningJob{ID: j.id, Cost: j.spec.Cost, Started: j.started}
	}
	return Snapshot{
		PoolID:       p.id,
		Mode:         p.mode,
		Phase:        p.phase,
		Closed:       p.closed,
		PendingCount: len(p.pending) + len(p.inbox),
		RunningJobs:  running,
		Allocated:    p.accountant.Allocated(),
		Capacity:     p.accountant.Capacity(),
		Unbounded:    p.accountant.Unbounded(),
		Started:      p.started,
		Ended:        p.ended,
	}
}

// History returns the records of all jobs that have left the scheduler:
// completed, failed and rejected, in finish order.
func (p *Pool) History() []Record {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	records := make([]Record, len(p.finished))
	for i, j := range p.finished {
		records[i] = j.record()
	}
	return records
}

// newJob creates a job with the next pool-unique ID. The pool lock must be
// held, except during construction.
func (p *Pool) newJob(spec JobSpec) *job {
	return &job{
		id:    strconv.FormatUint(p.maxID.Add(1), 10),
		spec:  spec,
		state: Pending,
	}
}

// rejects reports whether a job of the given cost can never be admitted.
func (p *Pool) rejects(cost uint64) bool {
	return !p.accountant.Unbounded() && cost > p.accountant.Capacity()
}

// monitor polls every running job for exit. For each exited job it releases
// the job's budget, runs the post-hook with the exit result, marks the job
// completed or failed and removes it from the running set. Each job's budget
// is released exactly once: the job leaves the running set in the same pass
// that observes its exit.
func (p *Pool) monitor() {
	stillRunning := p.running[:0]
	for _, j := range p.running {
		result, exited := j.handle.Poll()
		if !exited {
			stillRunning = append(stillRunning, j)
			continue
		}
		p.accountant.Release(j.spec.Cost)
		j.handle = nil
		j.stopped = time.Now()
		j.result = result
		if result.Success() {
			j.state = Completed
		} else {
			j.state = Failed
		}
		if j.spec.PostHook != nil {
			j.spec.PostHook(result)
		}
		p.finished = append(p.finished, j)
		slog.Info("job finished", "pool", p.id, "id", j.id, "state", j.state,
			"exit_code", result.ExitCode, "available", p.accountant.Available())
	}
	p.running = stillRunning
}

// admit scans the pending queue head-first and admits every job whose
// reservation succeeds. The scan is work-conserving: it continues past jobs
// that do not fit, so a later, cheaper job may still be admitted.
func (p *Pool) admit() {
	waiting := p.pending[:0]
	for _, j := range p.pending {
		if !p.accountant.Reserve(j.spec.Cost) {
			waiting = append(waiting, j)
			continue
		}
		if err := p.launch(j); err != nil {
			p.accountant.Release(j.spec.Cost)
			j.state = Failed
			j.stopped = time.Now()
			j.result = Result{ExitCode: NotTerminated, Err: err}
			if j.spec.PostHook != nil {
				j.spec.PostHook(j.result)
			}
			p.finished = append(p.finished, j)
			slog.Error("cannot launch job", "pool", p.id, "id", j.id, "err", err)
			continue
		}
		j.state = Running
		j.started = time.Now()
		p.running = append(p.running, j)
		slog.Info("job admitted", "pool", p.id, "id", j.id, "cost", j.spec.Cost,
			"available", p.accountant.Available())
	}
	p.pending = waiting
}

// launch runs the job's pre-hook and starts its process. The job's budget
// has already been reserved; the caller releases it on error.
func (p *Pool) launch(j *job) error {
	if j.spec.PreHook != nil {
		if err := j.spec.PreHook(); err != nil {
			return fmt.Errorf("%w: pre-hook: %w", ErrLaunch, err)
		}
	}
	handle, err := p.launcher.Launch(j.id, j.spec.Command)
	if err != nil {
		return err
	}
	j.handle = handle
	return nil
}

// advancePhase terminates the pool once no work remains: always for a
// Static pool, and after End for a Dynamic one.
func (p *Pool) advancePhase() {
	if len(p.inbox)+len(p.pending)+len(p.running) > 0 {
		return
	}
	if p.mode == Dynamic && !p.closed {
		return
	}
	p.phase = Terminated
	p.ended = time.Now()
	slog.Info("pool terminated", "pool", p.id, "jobs", len(p.finished))
}
