package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestBlake3MatchesReference(t *testing.T) {
	expected := blake3.Sum256([]byte("hello world"))
	require.Equal(t, expected, Blake3([]byte("hello"), []byte(" "), []byte("world")))
	// pooled hashers must come back reset
	require.Equal(t, expected, Blake3([]byte("hello world")))
}
