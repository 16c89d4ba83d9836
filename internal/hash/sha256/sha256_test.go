package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "content/job-1/b9/b94d.txt", ObjectPath("content/job-1", "b94d", ".txt"))
	require.Equal(t, "x/ab/ab.txt", ObjectPath("x", "ab", ".txt"))
}
