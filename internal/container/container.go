// Package container holds Container, an immutable, shareable byte buffer.
// A cached message's payload is wrapped in one so the handle dispatch loop,
// the message cache, and a slow application callback can all hold a
// reference to the same bytes without copying and without risking a
// concurrent mutation. Large payloads are logged by fingerprint instead of
// by value so a multi-megabyte upload never lands in a log line.
package container

import (
	"crypto/sha1" //nolint:gosec // fingerprint only, not a security boundary
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// FingerprintThreshold is the payload size, in bytes, at or above which
// String reports a fingerprint instead of a hex dump.
const FingerprintThreshold = 256

// MaxSize is the largest payload this module will wrap, matching the
// message cache's container_size accounting ceiling.
const MaxSize = 2 << 30 // 2 GiB

var errTooLarge = errors.New("container: payload exceeds MaxSize")

// Container is a read-only view over a byte slice. The zero value is an
// empty container. Copying a Container by value is cheap and safe: the
// underlying array is never mutated after New returns.
type Container struct {
	data []byte
}

// New wraps data without copying it. Callers must not mutate data after
// passing it to New; Bytes returns the same backing array.
func New(data []byte) (Container, error) {
	if len(data) > MaxSize {
		return Container{}, errTooLarge
	}
	return Container{data: data}, nil
}

// Len returns the payload size in bytes.
func (c Container) Len() int {
	return len(c.data)
}

// Bytes returns the wrapped slice. Callers must treat it as read-only.
func (c Container) Bytes() []byte {
	return c.data
}

// Fingerprint returns the hex-encoded SHA-1 digest of the payload, cheap
// enough to compute on demand for logging without retaining the payload.
func (c Container) Fingerprint() string {
	sum := sha1.Sum(c.data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// String renders the payload for logging: small payloads print as a
// hex dump, payloads at or above FingerprintThreshold print as
// "<N bytes, fingerprint abcd1234...>" so a log line never carries raw
// message content.
func (c Container) String() string {
	if len(c.data) < FingerprintThreshold {
		return fmt.Sprintf("%x", c.data)
	}
	return fmt.Sprintf("<%d bytes, fingerprint %s>", len(c.data), c.Fingerprint())
}
