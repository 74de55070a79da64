// Poolflow schedules memory-costly computations under a virtual-memory
// budget.
//
// The CLI supports the following commands:
//
//   - run: run the jobs described in a YAML job file and report on them.
//   - serve: run a dynamic pool that accepts submissions over TCP.
//   - submit: submit a job to a running pool server.
//   - status: show the status of a running pool server.
//
// The server address can also be configured with the POOLFLOW_ADDRESS
// environment variable.
//
// Example usage:
//
//	poolflow run jobs.yaml
//	poolflow serve --capacity 16GiB
//	poolflow submit --cost 2GiB -- simulate --case 7
//	poolflow status
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/poolflow/poolflow/pkg/jobfile"
	"github.com/poolflow/poolflow/pkg/pool"
	"github.com/poolflow/poolflow/pkg/report"
	"github.com/poolflow/poolflow/pkg/server"
)

const description = "Poolflow schedules memory-costly computations under a virtual-memory budget."

type app struct {
	Run    runCmd    `cmd:"" help:"Run the jobs described in a job file."`
	Serve  serveCmd  `cmd:"" help:"Run a dynamic pool that accepts submissions over TCP."`
	Submit submitCmd `cmd:"" help:"Submit a job to a running pool server."`
	Status statusCmd `cmd:"" help:"Show the status of a running pool server."`
}

func main() {
	var writer io.Writer = os.Stdout
	opts := []kong.Option{
		kong.Bind(&writer),
		kong.Description(description),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	}
	kctx := kong.Parse(&app{}, opts...)
	kctx.FatalIfErrorf(kctx.Run())
}

type runCmd struct {
	Jobfile  string        `arg:"" required:"" help:"YAML job file to run."`
	Capacity pool.ByteSize `short:"c" help:"Memory budget, overrides the job file and system detection. ex: 16GiB"`
	Tick     time.Duration `help:"Interval between scheduling passes, overrides the job file."`
	Refresh  time.Duration `help:"Interval between status reports, overrides the job file."`
	Output   string        `short:"o" help:"File to write reports to instead of stdout."`

	w io.Writer // can be overridden for testing
}

type serveCmd struct {
	Address  string        `short:"A" default:"localhost:7455" help:"Address to listen on." env:"POOLFLOW_ADDRESS"`
	Capacity pool.ByteSize `short:"c" help:"Memory budget, defaults to the system's available memory. ex: 16GiB"`
	Tick     time.Duration `default:"1s" help:"Interval between scheduling passes."`
	Refresh  time.Duration `default:"5s" help:"Interval between status reports."`
	Output   string        `short:"o" help:"File to write reports to instead of stdout."`

	w io.Writer
}

type submitCmd struct {
	Address string        `short:"A" default:"localhost:7455" help:"Pool server address." env:"POOLFLOW_ADDRESS"`
	Cost    pool.ByteSize `short:"c" required:"" help:"Estimated peak memory usage of the job. ex: 2GiB"`
	Pre     string        `help:"Shell command the server runs before the job."`
	Post    string        `help:"Shell command the server runs after the job."`
	Command string        `arg:"" required:"" help:"Command to run."`
	Args    []string      `arg:"" optional:"" help:"Command arguments."`

	w io.Writer
}

type statusCmd struct {
	Address string `short:"A" default:"localhost:7455" help:"Pool server address." env:"POOLFLOW_ADDRESS"`

	w io.Writer
}

// AfterApply is called by [kong] after flag validation, before Run. The
// pointer to the io.Writer is required to keep the io.Writer type when
// passing through an `any` parameter on the [kong.Bind] function.
func (c *runCmd) AfterApply(w *io.Writer) error { c.w = cmp.Or(*w, io.Writer(os.Stdout)); return nil }
func (c *serveCmd) AfterApply(w *io.Writer) error { c.w = cmp.Or(*w, io.Writer(os.Stdout)); return nil }
func (c *submitCmd) AfterApply(w *io.Writer) error { c.w = cmp.Or(*w, io.Writer(os.Stdout)); return nil }
func (c *statusCmd) AfterApply(w *io.Writer) error { c.w = cmp.Or(*w, io.Writer(os.Stdout)); return nil }

// Run is called by [kong] when the CLI arguments contain the `run` command.
func (c *runCmd) Run() error {
	f, err := jobfile.Load(c.Jobfile)
	if err != nil {
		return err
	}
	opts := f.PoolOptions()
	if c.Capacity > 0 {
		opts = append(opts, pool.WithCapacity(uint64(c.Capacity)))
	}
	if c.Tick > 0 {
		opts = append(opts, pool.WithTickInterval(c.Tick))
	}

	var p *pool.Pool
	if f.PoolMode() == pool.Static {
		p = pool.NewStatic(f.Specs(), opts...)
	} else {
		p = pool.NewDynamic(opts...)
		for i, spec := range f.Specs() {
			if _, err := p.Submit(spec); err != nil {
				slog.Warn("job not queued", "job", i+1, "err", err)
			}
		}
		p.End() // the job file is the whole submission stream
	}

	refresh := cmp.Or(c.Refresh, time.Duration(f.Refresh), report.DefaultRefreshInterval)
	out, closeOut, err := openOutput(c.Output, c.w)
	if err != nil {
		return err
	}
	defer closeOut()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return driveWithReports(ctx, p, report.New(out), refresh)
}

// Run is called by [kong] when the CLI arguments contain the `serve`
// command.
func (c *serveCmd) Run() error {
	var opts []pool.Option
	if c.Capacity > 0 {
		opts = append(opts, pool.WithCapacity(uint64(c.Capacity)))
	}
	if c.Tick > 0 {
		opts = append(opts, pool.WithTickInterval(c.Tick))
	}
	p := pool.NewDynamic(opts...)

	srv := server.New(p)
	lis, err := net.Listen("tcp", c.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()

	out, closeOut, err := openOutput(c.Output, c.w)
	if err != nil {
		return err
	}
	defer closeOut()

	// On interrupt, stop taking submissions and drain in-flight jobs. A
	// running job is never preempted.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutting down, draining in-flight jobs")
		p.End()
	}()

	if err := driveWithReports(context.Background(), p, report.New(out), c.Refresh); err != nil {
		return err
	}
	if err := srv.Close(); err != nil {
		return err
	}
	return <-serveErr
}

// Run is called by [kong] when the CLI arguments contain the `submit`
// command.
func (c *submitCmd) Run() error {
	command := pool.Command{Path: c.Command, Args: c.Args}
	id, err := server.Submit(c.Address, uint64(c.Cost), command, shellHook(c.Pre), shellHook(c.Post))
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	if _, err := fmt.Fprintln(c.w, id); err != nil {
		return fmt.Errorf("failed to write job ID %q: %w", id, err)
	}
	return nil
}

// Run is called by [kong] when the CLI arguments contain the `status`
// command.
func (c *statusCmd) Run() error {
	snap, err := server.Status(c.Address)
	if err != nil {
		return fmt.Errorf("failed to get pool status: %w", err)
	}
	return report.New(c.w).Status(snap)
}

// driveWithReports runs the pool's scheduling loop with a periodic reporter
// beside it and waits for both: the reporter writes its final review once
// the pool stops.
func driveWithReports(ctx context.Context, p *pool.Pool, r *report.Reporter, refresh time.Duration) error {
	emitCtx, stopEmit := context.WithCancel(context.Background())
	emitDone := make(chan error, 1)
	go func() { emitDone <- r.Emit(emitCtx, p, refresh) }()

	runErr := p.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil // interrupted, the review still reflects what ran
	}
	stopEmit()
	if err := <-emitDone; err != nil {
		return err
	}
	return runErr
}

// openOutput returns the report destination: the given file, or fallback
// when no file is named.
func openOutput(path string, fallback io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return fallback, func() {}, nil
	}
	f, err := os.Create(path) //nolint:gosec // G304: writing a user-named report file is the point
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open output file: %w", err)
	}
	closeOut := func() {
		if err := f.Close(); err != nil {
			slog.Error("cannot close output file", "path", path, "err", err)
		}
	}
	return f, closeOut, nil
}

// shellHook wraps a non-empty shell command string for remote execution.
func shellHook(s string) *pool.Command {
	if s == "" {
		return nil
	}
	return &pool.Command{Path: "sh", Args: []string{"-c", s}}
}
