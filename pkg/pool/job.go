package pool

import "time"

// JobSpec describes a job to submit: what to run, what it is estimated to
// cost, and optional hooks around its execution.
type JobSpec struct {
	// Cost is the estimated peak memory usage in bytes. It is fixed at
	// submission and never re-estimated.
	Cost uint64

	// Command is the executable specification handed to the Launcher.
	Command Command

	// PreHook, if set, runs exactly once on the scheduling goroutine after
	// the job's budget has been reserved and before its process launches. A
	// non-nil error fails the job without launching it.
	PreHook func() error

	// PostHook, if set, runs exactly once on the scheduling goroutine after
	// the job's budget has been released, with the job's result.
	//
	// Hooks run inside a scheduling pass and must not call back into the
	// Pool. Hook cost is assumed negligible next to the job itself; a slow
	// hook stalls the whole pass.
	PostHook func(Result)
}

// job is a single unit of work owned by a Pool. All fields after creation
// are mutated only under the pool lock.
type job struct {
	id      string
	spec    JobSpec
	state   State
	handle  ProcessHandle // present only while state == Running
	started time.Time
	stopped time.Time
	result  Result
}

// record converts the job to its immutable Record form for history and
// review.
func (j *job) record() Record {
	exitCode := NotTerminated
	if j.state == Completed || j.state == Failed {
		exitCode = j.result.ExitCode
	}
	return Record{
		ID:       j.id,
		Cost:     j.spec.Cost,
		Command:  j.spec.Command,
		State:    j.state,
		Started:  j.started,
		Stopped:  j.stopped,
		ExitCode: exitCode,
	}
}
