package pool

import (
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/mem"
)

// Accountant tracks the pool's virtual-memory budget: a fixed capacity and
// the sum of cost estimates of all currently running jobs.
//
// Implementations are not safe for concurrent use on their own; the owning
// Pool serializes all access under its lock.
type Accountant interface {
	// Reserve increments the allocated amount by cost and reports success.
	// It fails, with no state change, if the reservation would exceed
	// capacity.
	Reserve(cost uint64) bool

	// Release decrements the allocated amount by cost. It panics with
	// ErrAccountingUnderflow if the release would drive the allocated amount
	// negative: that is a double-release or a mis-tracked cost, and
	// continuing with corrupted accounting would be worse than stopping.
	Release(cost uint64)

	// Allocated returns the sum of cost estimates of all running jobs.
	Allocated() uint64

	// Available returns the budget remaining for new admissions.
	Available() uint64

	// Capacity returns the total budget, fixed at construction. Zero and
	// meaningless when Unbounded reports true.
	Capacity() uint64

	// Unbounded reports whether this accountant enforces no budget at all.
	// Callers must surface this to users: jobs may oversubscribe real
	// memory.
	Unbounded() bool
}

// ledger is the enforcing Accountant with a fixed capacity.
type ledger struct {
	capacity  uint64
	allocated uint64
}

// NewAccountant creates an enforcing Accountant with the given capacity in
// bytes.
func NewAccountant(capacity uint64) Accountant {
	return &ledger{capacity: capacity}
}

// DetectAccountant creates an Accountant whose capacity is the system's
// currently available virtual memory. If the platform does not support the
// query, it degrades to an unbounded accountant that admits everything; the
// degradation is logged and reported by Unbounded, never silent.
func DetectAccountant() Accountant {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		slog.Warn("cannot detect available system memory, budget enforcement disabled", "err", err)
		return &unboundedLedger{}
	}
	return &ledger{capacity: vm.Available}
}

func (l *ledger) Reserve(cost uint64) bool {
	if l.allocated+cost > l.capacity {
		return false
	}
	l.allocated += cost
	return true
}

func (l *ledger) Release(cost uint64) {
	if cost > l.allocated {
		panic(fmt.Errorf("%w: release of %d exceeds allocated %d", ErrAccountingUnderflow, cost, l.allocated))
	}
	l.allocated -= cost
}

func (l *ledger) Allocated() uint64 { return l.allocated }
func (l *ledger) Available() uint64 { return l.capacity - l.allocated }
func (l *ledger) Capacity() uint64  { return l.capacity }
func (l *ledger) Unbounded() bool   { return false }

// unboundedLedger admits everything. It still tracks the allocated sum so
// status reports stay meaningful and double-releases are still caught.
type unboundedLedger struct {
	allocated uint64
}

// NewUnboundedAccountant creates an Accountant that never refuses a
// reservation.
func NewUnboundedAccountant() Accountant {
	return &unboundedLedger{}
}

func (u *unboundedLedger) Reserve(cost uint64) bool {
	u.allocated += cost
	return true
}

func (u *unboundedLedger) Release(cost uint64) {
	if cost > u.allocated {
		panic(fmt.Errorf("%w: release of %d exceeds allocated %d", ErrAccountingUnderflow, cost, u.allocated))
	}
	u.allocated -= cost
}

func (u *unboundedLedger) Allocated() uint64 { return u.allocated }
func (u *unboundedLedger) Available() uint64 { return 0 }
func (u *unboundedLedger) Capacity() uint64  { return 0 }
func (u *unboundedLedger) Unbounded() bool   { return true }
