package connchecker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	faultyDNS := []string{"faultyIP"}
	faultyDomain := []string{"faultyHost"}

	_, err := New(faultyDNS, nil, time.Second)
	assert.Error(t, err, "malformed dns entries must fail to parse")

	_, err = New(DefaultDNSList, nil, time.Second)
	require.NoError(t, err)

	c, err := New(nil, faultyDomain, time.Second)
	require.NoError(t, err, "a bad domain is a signal, not a construction error")
	c.Shutdown()

	c, err = New(nil, nil, 0)
	require.NoError(t, err)
	defer c.Shutdown()

	t.Logf("connectivity observed at construction: %v", c.IsConnected())
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	c, err := New(nil, nil, 50*time.Millisecond)
	require.NoError(t, err)
	c.Shutdown()
	c.Shutdown()
}

func TestIsConnectedReflectsPolls(t *testing.T) {
	t.Parallel()
	c, err := New([]string{"127.0.0.1:1"}, []string{"no-such-domain.invalid"}, time.Second)
	require.NoError(t, err)
	defer c.Shutdown()
	assert.False(t, c.IsConnected())
}
