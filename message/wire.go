package message

import (
	"encoding/json"
	"time"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
)

// outboundEnvelope is the small JSON object sent as the second of the three
// outbound wire frames. Encoding stays on encoding/json: it runs once per
// submit, off the hot receive path.
type outboundEnvelope struct {
	Urgent            bool    `json:"urgent"`
	Mailboxed         bool    `json:"mailboxed"`
	SendToAllHosts    bool    `json:"send_to_all_hosts"`
	Timeout           float64 `json:"timeout"`
	Deadline          float64 `json:"deadline"`
	MaxTimeoutRetries int     `json:"max_timeout_retries"`
	UUID              string  `json:"uuid"`
}

// EncodeFrames renders m as the three outbound transport frames: an empty
// delimiter, the JSON envelope, and the raw payload.
func EncodeFrames(m Message) ([][]byte, error) {
	env := outboundEnvelope{
		Urgent:            m.Policy.Urgent,
		Mailboxed:         m.Policy.Mailboxed,
		SendToAllHosts:    m.Policy.SendToAllHosts,
		Timeout:           m.Policy.Timeout.Seconds(),
		MaxTimeoutRetries: m.Policy.MaxTimeoutRetries,
		UUID:              m.ID.String(),
	}
	if !m.Policy.Deadline.IsZero() {
		env.Deadline = float64(m.Policy.Deadline.Unix())
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "message: encoding envelope")
	}
	return [][]byte{{}, body, m.Payload.Bytes()}, nil
}

// InboundEnvelope is the parsed form of the two-or-three-frame inbound
// response wire. Payload is nil when the frame set carried no third frame.
type InboundEnvelope struct {
	UUID      string
	Completed bool
	Code      int
	Message   string
	Payload   []byte
}

// errMalformedFrames is returned by DecodeFrames when the frame set does
// not have the shape [empty, envelope] or [empty, envelope, payload].
var errMalformedFrames = errors.New("message: malformed inbound frame set")

// DecodeFrames parses the inbound frame set. It uses jsonparser rather than
// encoding/json because this runs once per inbound message on the handle
// dispatch loop's hot path.
func DecodeFrames(frames [][]byte) (InboundEnvelope, error) {
	if len(frames) < 2 || len(frames) > 3 {
		return InboundEnvelope{}, errMalformedFrames
	}
	env := frames[1]

	id, err := jsonparser.GetString(env, "uuid")
	if err != nil {
		return InboundEnvelope{}, errors.Wrap(err, "message: reading uuid")
	}
	completed, err := jsonparser.GetBoolean(env, "completed")
	if err != nil {
		return InboundEnvelope{}, errors.Wrap(err, "message: reading completed")
	}
	code, err := jsonparser.GetInt(env, "code")
	if err != nil {
		return InboundEnvelope{}, errors.Wrap(err, "message: reading code")
	}
	msg, err := jsonparser.GetString(env, "message")
	if err != nil && err != jsonparser.KeyPathNotFoundError {
		return InboundEnvelope{}, errors.Wrap(err, "message: reading message")
	}

	out := InboundEnvelope{UUID: id, Completed: completed, Code: int(code), Message: msg}
	if len(frames) == 3 {
		out.Payload = frames[2]
	}
	return out, nil
}

// deadlineToTime converts a wire deadline (seconds since epoch, 0 meaning
// disabled) back into a time.Time, the inverse of the Unix() encoding in
// EncodeFrames.
func deadlineToTime(seconds float64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(int64(seconds), 0)
}

// parseFloatField reads a float field out of a raw JSON envelope, used by
// tests asserting round-trip fidelity without re-decoding through the
// outboundEnvelope struct.
func parseFloatField(env []byte, key string) (float64, error) {
	v, err := jsonparser.GetFloat(env, key)
	if err != nil {
		return 0, err
	}
	return v, nil
}
