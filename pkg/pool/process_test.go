package pool_test

import (
	"testing"
	"time"

	"github.com/poolflow/poolflow/pkg/pool"
	"github.com/stretchr/testify/require"
)

func pollUntilExit(t *testing.T, h pool.ProcessHandle) pool.Result {
	t.Helper()
	var result pool.Result
	require.Eventually(t, func() bool {
		r, exited := h.Poll()
		result = r
		return exited
	}, 5*time.Second, 10*time.Millisecond)
	return result
}

func TestExecLauncherSuccess(t *testing.T) {
	t.Parallel()
	h, err := pool.ExecLauncher{}.Launch("1", pool.Command{Path: "true"})
	require.NoError(t, err)

	_, exitedEarly := h.Poll()
	_ = exitedEarly // Poll is non-blocking; either answer is valid immediately after launch.

	result := pollUntilExit(t, h)
	require.True(t, result.Success())
	require.Equal(t, 0, result.ExitCode)
}

func TestExecLauncherExitCode(t *testing.T) {
	t.Parallel()
	h, err := pool.ExecLauncher{}.Launch("1", pool.Command{Path: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)

	result := pollUntilExit(t, h)
	require.False(t, result.Success())
	require.Equal(t, 3, result.ExitCode)
	require.NoError(t, result.Err)
}

func TestExecLauncherMissingCommand(t *testing.T) {
	t.Parallel()
	_, err := pool.ExecLauncher{}.Launch("1", pool.Command{Path: "no-such-command-anywhere"})
	require.ErrorIs(t, err, pool.ErrLaunch)
}

func TestCommandString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "true", pool.Command{Path: "true"}.String())
	require.Equal(t, "sh -c ls", pool.Command{Path: "sh", Args: []string{"-c", "ls"}}.String())
}
