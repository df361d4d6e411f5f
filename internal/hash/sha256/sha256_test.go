package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasher_Hash_KnownDigest(t *testing.T) {
	t.Parallel()

	digest, ok := New().Hash("abc")
	require.True(t, ok)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", digest)
}

func TestHasher_Hash_EmptyTextHasNoDigest(t *testing.T) {
	t.Parallel()

	digest, ok := New().Hash("")
	require.False(t, ok)
	require.Empty(t, digest)
}

func TestHasher_Hash_Deterministic(t *testing.T) {
	t.Parallel()

	h := New()
	a, _ := h.Hash("hemoglobin 140")
	b, _ := h.Hash("hemoglobin 140")
	c, _ := h.Hash("hemoglobin 141")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
