package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrames(t *testing.T) {
	t.Parallel()
	deadline := time.Now().Add(time.Minute).Truncate(time.Second)
	m, err := New(Path{Service: "svc", Handle: "h"}, Policy{
		Urgent:   true,
		Timeout:  5 * time.Second,
		Deadline: deadline,
	}, []byte("payload"))
	require.NoError(t, err)

	frames, err := EncodeFrames(m)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Empty(t, frames[0])
	assert.Equal(t, []byte("payload"), frames[2])

	uuidField, err := parseStringField(frames[1], "uuid")
	require.NoError(t, err)
	assert.Equal(t, m.ID.String(), uuidField)

	deadlineField, err := parseFloatField(frames[1], "deadline")
	require.NoError(t, err)
	assert.Equal(t, deadline, deadlineToTime(deadlineField))

	timeoutField, err := parseFloatField(frames[1], "timeout")
	require.NoError(t, err)
	assert.Equal(t, float64(5), timeoutField)
}

func TestEncodeFramesZeroDeadlineNeverExpires(t *testing.T) {
	t.Parallel()
	m, err := New(Path{Service: "svc", Handle: "h"}, Policy{}, nil)
	require.NoError(t, err)
	frames, err := EncodeFrames(m)
	require.NoError(t, err)
	d, err := parseFloatField(frames[1], "deadline")
	require.NoError(t, err)
	assert.True(t, deadlineToTime(d).IsZero())
}

func TestDecodeFramesChunk(t *testing.T) {
	t.Parallel()
	env := []byte(`{"uuid":"abc-123","completed":false,"code":0,"message":""}`)
	got, err := DecodeFrames([][]byte{{}, env, []byte("chunk bytes")})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got.UUID)
	assert.False(t, got.Completed)
	assert.Equal(t, 0, got.Code)
	assert.Equal(t, []byte("chunk bytes"), got.Payload)
}

func TestDecodeFramesChoke(t *testing.T) {
	t.Parallel()
	env := []byte(`{"uuid":"abc-123","completed":true,"code":0,"message":""}`)
	got, err := DecodeFrames([][]byte{{}, env})
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Nil(t, got.Payload)
}

func TestDecodeFramesPeerError(t *testing.T) {
	t.Parallel()
	env := []byte(`{"uuid":"abc-123","completed":true,"code":42,"message":"boom"}`)
	got, err := DecodeFrames([][]byte{{}, env})
	require.NoError(t, err)
	assert.Equal(t, 42, got.Code)
	assert.Equal(t, "boom", got.Message)
}

func TestDecodeFramesMalformed(t *testing.T) {
	t.Parallel()
	_, err := DecodeFrames([][]byte{{}})
	assert.ErrorIs(t, err, errMalformedFrames)

	_, err = DecodeFrames([][]byte{{}, []byte("not json")})
	assert.Error(t, err)
}

// parseStringField mirrors parseFloatField for the uuid field, used only by
// this test to assert round-trip fidelity without re-decoding through
// DecodeFrames (which expects the inbound, not outbound, envelope shape).
func parseStringField(env []byte, key string) (string, error) {
	var out struct {
		UUID string `json:"uuid"`
	}
	if key != "uuid" {
		return "", errMalformedFrames
	}
	if err := json.Unmarshal(env, &out); err != nil {
		return "", err
	}
	return out.UUID, nil
}
