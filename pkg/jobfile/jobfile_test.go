package jobfile_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poolflow/poolflow/pkg/jobfile"
	"github.com/poolflow/poolflow/pkg/pool"
	"github.com/stretchr/testify/require"
)

const sampleFile = `
mode: static
capacity: 8GiB
tick: 250ms
refresh: 5s
jobs:
  - command: [simulate, --case, "7"]
    cost: 2GiB
    pre: [sh, -c, "test -r case7.dat"]
    post: [sh, -c, "gzip case7.out"]
  - command: [simulate, --case, "8"]
    cost: 512MiB
`

func TestParse(t *testing.T) {
	t.Parallel()
	f, err := jobfile.Parse(strings.NewReader(sampleFile))
	require.NoError(t, err)
	require.Equal(t, pool.Static, f.PoolMode())
	require.Equal(t, jobfile.Size(8<<30), f.Capacity)
	require.Equal(t, jobfile.Duration(250*time.Millisecond), f.Tick)
	require.Equal(t, jobfile.Duration(5*time.Second), f.Refresh)
	require.Len(t, f.Jobs, 2)
	require.Equal(t, []string{"simulate", "--case", "7"}, f.Jobs[0].Command)
	require.Equal(t, jobfile.Size(512<<20), f.Jobs[1].Cost)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"empty command":  "jobs:\n  - cost: 1GiB\n",
		"missing cost":   "jobs:\n  - command: [ls]\n",
		"bad mode":       "mode: periodic\njobs: []\n",
		"bad cost":       "jobs:\n  - command: [ls]\n    cost: huge\n",
		"bad duration":   "tick: fast\njobs: []\n",
		"unknown field":  "jobz: []\n",
	}
	for name, content := range tests {
		_, err := jobfile.Parse(strings.NewReader(content))
		require.Error(t, err, name)
	}
}

func TestSpecs(t *testing.T) {
	t.Parallel()
	f, err := jobfile.Parse(strings.NewReader(sampleFile))
	require.NoError(t, err)
	specs := f.Specs()
	require.Len(t, specs, 2)
	require.Equal(t, pool.Command{Path: "simulate", Args: []string{"--case", "7"}}, specs[0].Command)
	require.EqualValues(t, 2<<30, specs[0].Cost)
	require.NotNil(t, specs[0].PreHook)
	require.NotNil(t, specs[0].PostHook)
	require.Nil(t, specs[1].PreHook)
	require.Nil(t, specs[1].PostHook)
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))
	f, err := jobfile.Load(path)
	require.NoError(t, err)
	require.Len(t, f.Jobs, 2)

	_, err = jobfile.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, jobfile.ErrJobFile)
}
