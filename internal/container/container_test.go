package container

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	c, err := New([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())
	assert.True(t, bytes.Equal([]byte("hello"), c.Bytes()))

	_, err = New(make([]byte, MaxSize+1))
	assert.ErrorIs(t, err, errTooLarge)
}

func TestZeroValue(t *testing.T) {
	t.Parallel()
	var c Container
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Bytes())
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()
	a, err := New([]byte("same payload"))
	require.NoError(t, err)
	b, err := New([]byte("same payload"))
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c, err := New([]byte("different payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestStringSwitchesToFingerprintAboveThreshold(t *testing.T) {
	t.Parallel()
	small, err := New([]byte("short"))
	require.NoError(t, err)
	assert.NotContains(t, small.String(), "fingerprint")

	big, err := New(bytes.Repeat([]byte("a"), FingerprintThreshold+1))
	require.NoError(t, err)
	assert.True(t, strings.Contains(big.String(), "fingerprint"))
}
