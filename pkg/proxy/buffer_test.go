package proxy

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCapped_Fits(t *testing.T) {
	buf, overflow, err := readCapped(strings.NewReader("hello"), 10)
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Equal(t, []byte("hello"), buf)
}

func TestReadCapped_ExactCeiling(t *testing.T) {
	buf, overflow, err := readCapped(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.False(t, overflow, "a body exactly at the ceiling still fits")
	assert.Equal(t, []byte("hello"), buf)
}

func TestReadCapped_OverflowLeavesRemainderReadable(t *testing.T) {
	r := strings.NewReader("0123456789")
	buf, overflow, err := readCapped(r, 4)
	require.NoError(t, err)
	assert.True(t, overflow)

	// Replaying prefix plus remainder reproduces the original stream.
	full, err := io.ReadAll(replayReader(buf, r))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(full))
}

func TestReplayReader_EmptyPrefix(t *testing.T) {
	full, err := io.ReadAll(replayReader(nil, strings.NewReader("tail")))
	require.NoError(t, err)
	assert.Equal(t, "tail", string(full))
}
