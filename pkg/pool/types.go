package pool

import (
	"errors"
	"time"
)

// Sentinel Errors returned by the pool package.
var (
	ErrCostExceedsCapacity = errors.New("cost exceeds capacity")
	ErrPoolClosed          = errors.New("pool closed")
	ErrLaunch              = errors.New("launch error")
	ErrAccountingUnderflow = errors.New("accounting underflow")
)

// NotTerminated is the exit code used to indicate that a job has not run to
// termination.
//
// The os package uses an exit code of -1 if the process hasn't exited or was
// terminated by a signal. To avoid ambiguity, this package uses -2 to
// represent a job that has not terminated, including jobs that never
// launched.
const (
	NotTerminated      = -2
	TerminatedBySignal = -1
)

// Mode selects the pool lifecycle: a Static pool knows its full job list at
// construction and terminates once every job has finished; a Dynamic pool
// accepts submissions until End is called.
type Mode int

const (
	Static Mode = iota
	Dynamic
)

var modeNames = []string{"static", "dynamic"}

func (m Mode) String() string {
	if int(m) < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// MarshalText implements encoding.TextMarshaler so Mode serializes as its
// name in JSON and YAML.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	for i, name := range modeNames {
		if name == string(text) {
			*m = Mode(i)
			return nil
		}
	}
	return errors.New("unknown pool mode: " + string(text))
}

// Phase is the lifecycle phase of a pool.
type Phase int

const (
	// Idle means the pool has been created but no tick has run yet.
	Idle Phase = iota

	// Active means the scheduling loop is running and the pool still accepts
	// or holds work.
	Active

	// Draining means no further submissions are accepted but jobs already
	// pending or running continue through normal admission and monitoring.
	Draining

	// Terminated means pending and running are both empty and the pool will
	// never run another job. Terminal; only status queries remain valid.
	Terminated
)

var phaseNames = []string{"idle", "active", "draining", "terminated"}

func (p Phase) String() string {
	if int(p) < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return errors.New("unknown pool phase: " + string(text))
}

// State is the lifecycle state of a single job.
type State int

const (
	// Pending means the job is queued and awaiting admission.
	Pending State = iota

	// Running means the job has been admitted and its process launched.
	Running

	// Completed means the job's process exited with a zero exit code.
	Completed

	// Failed means the job's process exited non-zero, or its pre-hook or
	// launch failed.
	Failed

	// Rejected means the job's cost exceeds the pool capacity and it can
	// never be admitted. Detected at submission, the job never enters the
	// pending queue.
	Rejected
)

var stateNames = []string{"pending", "running", "completed", "failed", "rejected"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return errors.New("unknown job state: " + string(text))
}

// Snapshot is a consistent, read-only view of a pool, taken between ticks,
// never mid-mutation. It is safe to retain and serialize.
type Snapshot struct {
	PoolID       string       `json:"pool_id"`
	Mode         Mode         `json:"mode"`
	Phase        Phase        `json:"phase"`
	Closed       bool         `json:"closed"`
	PendingCount int          `json:"pending_count"`
	RunningJobs  []RunningJob `json:"running_jobs"`
	Allocated    uint64       `json:"allocated"`
	Capacity     uint64       `json:"capacity"`
	Unbounded    bool         `json:"unbounded"`
	Started      time.Time    `json:"started"`
	Ended        time.Time    `json:"ended"`
}

// RunningJob identifies one currently running job and its reserved cost.
type RunningJob struct {
	ID      string    `json:"id"`
	Cost    uint64    `json:"cost"`
	Started time.Time `json:"started"`
}

// Record is the immutable record of a job that has left the scheduler:
// completed, failed or rejected.
type Record struct {
	ID       string    `json:"id"`
	Cost     uint64    `json:"cost"`
	Command  Command   `json:"command"`
	State    State     `json:"state"`
	Started  time.Time `json:"started"`
	Stopped  time.Time `json:"stopped"`
	ExitCode int       `json:"exit_code"`
}
