package pool_test

import (
	"testing"

	"github.com/poolflow/poolflow/pkg/pool"
	"github.com/stretchr/testify/require"
)

func TestByteSizeUnmarshalText(t *testing.T) {
	t.Parallel()
	tests := map[string]pool.ByteSize{
		"1536":    1536,
		"100B":    100,
		"1KiB":    1 << 10,
		"512MiB":  512 << 20,
		"2GiB":    2 << 30,
		"1.5GiB":  3 << 29,
		"1TiB":    1 << 40,
		" 4MiB ":  4 << 20,
		"0.5KiB":  512,
	}
	for input, want := range tests {
		var got pool.ByteSize
		require.NoError(t, got.UnmarshalText([]byte(input)), input)
		require.Equal(t, want, got, input)
	}
}

func TestByteSizeUnmarshalTextErrors(t *testing.T) {
	t.Parallel()
	for _, input := range []string{"", "abc", "-1", "-5MiB", "12Gib", "MiB"} {
		var b pool.ByteSize
		require.Error(t, b.UnmarshalText([]byte(input)), input)
	}
}

func TestByteSizeString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "100B", pool.ByteSize(100).String())
	require.Equal(t, "1KiB", pool.ByteSize(1<<10).String())
	require.Equal(t, "2GiB", pool.ByteSize(2<<30).String())
	require.Equal(t, "1.5GiB", pool.ByteSize(3<<29).String())
}
