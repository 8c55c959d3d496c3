package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	t.Parallel()
	m := NewMatch()

	_, err := m.Set("sig", 0)
	assert.ErrorIs(t, err, errInvalidBufferSize)

	ch, err := m.Set("sig", 2)
	require.NoError(t, err)
	require.NotNil(t, ch)

	_, err = m.Set("sig", 2)
	assert.ErrorIs(t, err, errSignatureCollision)
}

func TestIncomingWithData(t *testing.T) {
	t.Parallel()
	m := NewMatch()

	assert.False(t, m.IncomingWithData("unknown", []byte("x")))

	ch, err := m.Set("sig", 1)
	require.NoError(t, err)

	assert.True(t, m.IncomingWithData("sig", []byte("payload")))
	// buffer capacity of 1 is exhausted after one lifetime match
	assert.False(t, m.IncomingWithData("sig", []byte("second")))

	select {
	case data := <-ch:
		assert.Equal(t, []byte("payload"), data)
	default:
		t.Fatal("expected a queued delivery")
	}
}

func TestRemoveSignature(t *testing.T) {
	t.Parallel()
	m := NewMatch()
	ch, err := m.Set("sig", 1)
	require.NoError(t, err)

	m.RemoveSignature("sig")
	_, open := <-ch
	assert.False(t, open)

	assert.False(t, m.IncomingWithData("sig", []byte("x")))

	// removing twice, or removing an unknown signature, is a no-op
	m.RemoveSignature("sig")
	m.RemoveSignature("never-registered")
}

func TestRequireMatchWithData(t *testing.T) {
	t.Parallel()
	m := NewMatch()
	_, err := m.Set("sig", 1)
	require.NoError(t, err)

	require.NoError(t, m.RequireMatchWithData("sig", []byte("x")))
	err = m.RequireMatchWithData("sig", []byte("y"))
	assert.ErrorIs(t, err, ErrSignatureNotMatched)
}

func TestMatchReturnResponses(t *testing.T) {
	t.Parallel()
	m := &Match{ResponseMaxLimit: time.Second}
	m.entries = make(map[any]*matchEntry)

	out, err := m.MatchReturnResponses(context.Background(), "sig", 2)
	require.NoError(t, err)

	assert.True(t, m.IncomingWithData("sig", []byte("one")))
	assert.True(t, m.IncomingWithData("sig", []byte("two")))

	select {
	case res := <-out:
		require.NoError(t, res.Err)
		assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, res.Responses)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestMatchReturnResponsesTimeout(t *testing.T) {
	t.Parallel()
	m := &Match{ResponseMaxLimit: 10 * time.Millisecond}
	m.entries = make(map[any]*matchEntry)

	out, err := m.MatchReturnResponses(context.Background(), "sig", 2)
	require.NoError(t, err)

	select {
	case res := <-out:
		assert.ErrorIs(t, res.Err, ErrSignatureTimeout)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestMatchReturnResponsesContextCancelled(t *testing.T) {
	t.Parallel()
	m := &Match{ResponseMaxLimit: time.Second}
	m.entries = make(map[any]*matchEntry)

	ctx, cancel := context.WithCancel(context.Background())
	out, err := m.MatchReturnResponses(ctx, "sig", 2)
	require.NoError(t, err)
	cancel()

	select {
	case res := <-out:
		assert.ErrorIs(t, res.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}
