package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	path := Path{Service: "svc", Handle: "h"}
	m, err := New(path, Policy{}, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, path, m.Path)
	assert.NotEqual(t, [16]byte{}, m.ID)

	_, err = New(path, Policy{}, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrDataTooBig)
}

func TestNewMintsDistinctIDs(t *testing.T) {
	t.Parallel()
	a, err := New(Path{Service: "svc", Handle: "h"}, Policy{}, nil)
	require.NoError(t, err)
	b, err := New(Path{Service: "svc", Handle: "h"}, Policy{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestContainerSizeAccountsForOverhead(t *testing.T) {
	t.Parallel()
	m, err := New(Path{Service: "svc", Handle: "h"}, Policy{}, []byte("1234567890"))
	require.NoError(t, err)
	assert.Equal(t, 10+3+1+len(m.ID.String())+fixedOverhead, m.ContainerSize())
}

func TestPolicyExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	assert.False(t, Policy{}.Expired(now), "zero deadline never expires")
	assert.False(t, Policy{Deadline: now.Add(time.Hour)}.Expired(now))
	assert.True(t, Policy{Deadline: now.Add(-time.Hour)}.Expired(now))
}

func TestCachedSentTransitions(t *testing.T) {
	t.Parallel()
	m, err := New(Path{Service: "svc", Handle: "h"}, Policy{}, nil)
	require.NoError(t, err)
	c := NewCached(m)
	assert.False(t, c.Sent)

	now := time.Now()
	c.MarkSent(now)
	assert.True(t, c.Sent)
	assert.Equal(t, now, c.SentAt)

	c.ResetSent()
	assert.False(t, c.Sent)
	assert.True(t, c.SentAt.IsZero())
}

func TestPathString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "svc/h", Path{Service: "svc", Handle: "h"}.String())
}
