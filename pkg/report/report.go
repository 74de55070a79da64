// Package report renders pool status and end-of-pool reviews for human
// consumption.
//
// The reporter is a passive consumer of pool snapshots: it decides cadence
// and format, the pool only guarantees that each snapshot is consistent.
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/poolflow/poolflow/pkg/pool"
)

// DefaultRefreshInterval is the pause between periodic status emissions.
const DefaultRefreshInterval = 5 * time.Second

// TimeFormat is the layout used for all timestamps in reports.
const TimeFormat = "2006-01-02 15:04:05"

// Reporter writes status and review tables to a single writer.
type Reporter struct {
	mutex sync.Mutex // serializes writes from Emit and direct calls
	w     io.Writer
}

// New creates a Reporter writing to w, typically os.Stdout or a log file.
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Status writes the current state of the pool: lifecycle, queue depth, the
// running-jobs table and the memory budget line.
func (r *Reporter) Status(s pool.Snapshot) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	now := time.Now().Format(TimeFormat)
	_, err := fmt.Fprintf(r.w, "pool %s  mode %s  phase %s  %s\n", s.PoolID, s.Mode, s.Phase, now)
	if err != nil {
		return fmt.Errorf("cannot write status header: %w", err)
	}
	_, err = fmt.Fprintf(r.w, "running %d  pending %d\n", len(s.RunningJobs), s.PendingCount)
	if err != nil {
		return fmt.Errorf("cannot write status counts: %w", err)
	}
	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOST\tSTARTED")
	for _, j := range s.RunningJobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", j.ID, pool.ByteSize(j.Cost), j.Started.Format(TimeFormat))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("cannot flush status table: %w", err)
	}
	if _, err := fmt.Fprintf(r.w, "memory: %s\n\n", memoryLine(s)); err != nil {
		return fmt.Errorf("cannot write memory line: %w", err)
	}
	return nil
}

// Review writes the end-of-pool summary: one row per job that went through
// the pool, with its final state and timings. It is meant to be called once
// the pool has terminated.
func (r *Reporter) Review(s pool.Snapshot, records []pool.Record) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, err := fmt.Fprintf(r.w, "pool review %s\nstarted %s\n", s.PoolID, s.Started.Format(TimeFormat))
	if err != nil {
		return fmt.Errorf("cannot write review header: %w", err)
	}
	if !s.Ended.IsZero() {
		if _, err := fmt.Fprintf(r.w, "ended %s\n", s.Ended.Format(TimeFormat)); err != nil {
			return fmt.Errorf("cannot write review header: %w", err)
		}
	}
	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tCOST\tCOMMAND\tSTARTED\tSTOPPED\tEXIT\tDURATION")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.State, pool.ByteSize(rec.Cost), rec.Command.String(),
			timeString(rec.Started), timeString(rec.Stopped),
			exitCodeString(rec.ExitCode), durationString(rec))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("cannot flush review table: %w", err)
	}
	if _, err := fmt.Fprintln(r.w); err != nil {
		return fmt.Errorf("cannot write review: %w", err)
	}
	return nil
}

// Emit writes a status report every interval until the pool terminates or
// ctx is canceled, then writes a final review. It blocks and is typically
// run on its own goroutine.
func (r *Reporter) Emit(ctx context.Context, p *pool.Pool, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := r.Status(p.Snapshot()); err != nil {
			return err
		}
		if p.Phase() == pool.Terminated {
			return r.Review(p.Snapshot(), p.History())
		}
		select {
		case <-ctx.Done():
			return r.Review(p.Snapshot(), p.History())
		case <-ticker.C:
		}
	}
}

// memoryLine renders the budget as "allocated/capacity" or flags the
// unbounded degraded mode, which must stay visible to users.
func memoryLine(s pool.Snapshot) string {
	if s.Unbounded {
		return fmt.Sprintf("%s allocated, capacity unbounded (enforcement unavailable)", pool.ByteSize(s.Allocated))
	}
	return fmt.Sprintf("%s/%s allocated, %s available",
		pool.ByteSize(s.Allocated), pool.ByteSize(s.Capacity), pool.ByteSize(s.Capacity-s.Allocated))
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(TimeFormat)
}

// exitCodeString converts an exit code to a string, with special cases for
// jobs that never terminated normally.
func exitCodeString(e int) string {
	switch e {
	case pool.NotTerminated:
		return "-"
	case pool.TerminatedBySignal:
		return "signal"
	default:
		return strconv.Itoa(e)
	}
}

func durationString(rec pool.Record) string {
	if rec.Started.IsZero() || rec.Stopped.IsZero() {
		return "-"
	}
	return rec.Stopped.Sub(rec.Started).Round(time.Second).String()
}
