package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelay(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewRelay[string](0) }, "buffer size should be greater than 0")
	r := NewRelay[string](5)
	require.NotNil(t, r)
	assert.Equal(t, 5, cap(r.comm))
}

func TestSend(t *testing.T) {
	t.Parallel()
	r := NewRelay[string](1)
	require.NotNil(t, r)
	assert.NoError(t, r.Send(t.Context(), "test"))
	assert.ErrorIs(t, r.Send(t.Context(), "overflow"), errChannelBufferFull)
}

func TestRead(t *testing.T) {
	t.Parallel()
	r := NewRelay[string](1)
	require.NotNil(t, r)
	readCh := r.Read()
	require.Empty(t, readCh)
	assert.NoError(t, r.Send(t.Context(), "test"))
	require.Len(t, readCh, 1)
	assert.Equal(t, "test", (<-readCh).Data)
}

func TestClose(t *testing.T) {
	t.Parallel()
	r := NewRelay[int](1)
	require.NotNil(t, r)
	r.Close()
	_, ok := <-r.C
	assert.False(t, ok)
}

func TestSendRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	r := NewRelay[string](1)
	require.NoError(t, r.Send(t.Context(), "fills the buffer"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := r.Send(ctx, "dropped")
	assert.Error(t, err)
}
