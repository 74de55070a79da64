// Package jobfile loads YAML job-list files that describe a pool and the
// jobs it should run.
//
// A job file looks like:
//
//	mode: static
//	capacity: 8GiB
//	tick: 1s
//	refresh: 5s
//	jobs:
//	  - command: [simulate, --case, "7"]
//	    cost: 2GiB
//	    pre: [sh, -c, "test -r case7.dat"]
//	    post: [sh, -c, "gzip case7.out"]
//
// Capacity defaults to the system's available memory when omitted. Costs
// parse human-readable sizes.
package jobfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/poolflow/poolflow/pkg/pool"
	"gopkg.in/yaml.v3"
)

// Sentinel Errors returned by the jobfile package.
var (
	ErrJobFile = errors.New("job file error")
)

// File is a parsed job file.
type File struct {
	Mode     Mode     `yaml:"mode"`
	Capacity Size     `yaml:"capacity"`
	Tick     Duration `yaml:"tick"`
	Refresh  Duration `yaml:"refresh"`
	Jobs     []Job    `yaml:"jobs"`
}

// Job is one job entry: the command as an argv list, its memory cost and
// optional pre and post commands.
type Job struct {
	Command []string `yaml:"command"`
	Cost    Size     `yaml:"cost"`
	Pre     []string `yaml:"pre"`
	Post    []string `yaml:"post"`
}

// Mode wraps pool.Mode for YAML decoding. yaml.v3 does not use
// encoding.TextUnmarshaler, so the wrappers below bridge to it.
type Mode pool.Mode

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var pm pool.Mode
	if err := pm.UnmarshalText([]byte(value.Value)); err != nil {
		return fmt.Errorf("%w: %w", ErrJobFile, err)
	}
	*m = Mode(pm)
	return nil
}

// Size wraps pool.ByteSize for YAML decoding of values like "2GiB".
type Size pool.ByteSize

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var b pool.ByteSize
	if err := b.UnmarshalText([]byte(value.Value)); err != nil {
		return fmt.Errorf("%w: %w", ErrJobFile, err)
	}
	*s = Size(b)
	return nil
}

// Duration wraps time.Duration to parse YAML strings like "500ms" or "1s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("%w: invalid duration %q: %w", ErrJobFile, value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and parses the job file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // G304: opening a user-named job file is the point
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobFile, err)
	}
	defer f.Close() //nolint:errcheck // read-only file
	file, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	return file, nil
}

// Parse parses a job file from r and validates it.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	file := &File{}
	if err := dec.Decode(file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobFile, err)
	}
	for i, j := range file.Jobs {
		if len(j.Command) == 0 {
			return nil, fmt.Errorf("%w: job %d: empty command", ErrJobFile, i+1)
		}
		if j.Cost == 0 {
			return nil, fmt.Errorf("%w: job %d: missing cost", ErrJobFile, i+1)
		}
	}
	return file, nil
}

// PoolMode returns the pool mode the file asks for. Static when omitted.
func (f *File) PoolMode() pool.Mode {
	return pool.Mode(f.Mode)
}

// Specs converts the file's job entries to pool job specs, wiring pre and
// post commands into hooks.
func (f *File) Specs() []pool.JobSpec {
	specs := make([]pool.JobSpec, len(f.Jobs))
	for i, j := range f.Jobs {
		spec := pool.JobSpec{
			Cost:    uint64(j.Cost),
			Command: command(j.Command),
		}
		if len(j.Pre) > 0 {
			spec.PreHook = pool.CommandPreHook(command(j.Pre))
		}
		if len(j.Post) > 0 {
			spec.PostHook = pool.CommandPostHook(command(j.Post))
		}
		specs[i] = spec
	}
	return specs
}

// PoolOptions translates the file's pool settings to pool options.
func (f *File) PoolOptions() []pool.Option {
	var opts []pool.Option
	if f.Capacity > 0 {
		opts = append(opts, pool.WithCapacity(uint64(f.Capacity)))
	}
	if f.Tick > 0 {
		opts = append(opts, pool.WithTickInterval(time.Duration(f.Tick)))
	}
	return opts
}

func command(argv []string) pool.Command {
	return pool.Command{Path: argv[0], Args: argv[1:]}
}
