package protocol

import (
	"encoding/binary"
	"encoding/json"

	"github.com/sharefileio/sharefile/internal/xerr"
)

// Codec encodes and decodes control-channel messages. Every encoded
// message is a single JSON object carrying a "type" discriminator
// alongside the message's own fields.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

type envelope struct {
	Type ControlType `json:"type"`
}

// Encode marshals msg to a JSON string suitable for sending on the
// control channel (webrtc.DataChannel.SendText).
func (c *Codec) Encode(msg ControlMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", xerr.New(xerr.ProtocolViolation, "protocol.Codec.Encode", err)
	}

	tagged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &tagged); err != nil {
		return "", xerr.New(xerr.ProtocolViolation, "protocol.Codec.Encode", err)
	}
	typeJSON, err := json.Marshal(msg.Type())
	if err != nil {
		return "", xerr.New(xerr.ProtocolViolation, "protocol.Codec.Encode", err)
	}
	tagged["type"] = typeJSON

	out, err := json.Marshal(tagged)
	if err != nil {
		return "", xerr.New(xerr.ProtocolViolation, "protocol.Codec.Encode", err)
	}
	return string(out), nil
}

// Decode inverts Encode. A string that is not valid JSON at all is
// returned as a Text message wrapping the raw string: plain strings on
// the control channel that fail JSON parsing are delivered upstream as
// {type:"text", text: <raw>}.
func (c *Codec) Decode(raw string) (ControlMessage, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Text{TextBody: raw}, nil
	}

	switch env.Type {
	case ControlHello:
		var m Hello
		return decodeInto(raw, &m)
	case ControlHeartbeatPing:
		var m HeartbeatPing
		return decodeInto(raw, &m)
	case ControlHeartbeatPong:
		var m HeartbeatPong
		return decodeInto(raw, &m)
	case ControlText:
		var m Text
		return decodeInto(raw, &m)
	case ControlFileMeta:
		var m FileMeta
		return decodeInto(raw, &m)
	case ControlFileAccept:
		var m FileAccept
		return decodeInto(raw, &m)
	case ControlFileAcceptAck:
		var m FileAcceptAck
		return decodeInto(raw, &m)
	case ControlFileDone:
		var m FileDone
		return decodeInto(raw, &m)
	case ControlFileCancel:
		var m FileCancel
		return decodeInto(raw, &m)
	default:
		return nil, xerr.New(xerr.ProtocolViolation, "protocol.Codec.Decode", nil)
	}
}

func decodeInto[T ControlMessage](raw string, dst *T) (ControlMessage, error) {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return nil, xerr.New(xerr.ProtocolViolation, "protocol.Codec.Decode", err)
	}
	return *dst, nil
}

// EncodeFrame writes the 8-byte (seq, len) big-endian header followed by
// payload. seq is the per-file monotonic sequence number, shared across
// all stripes of that file.
func EncodeFrame(seq uint32, payload []byte) []byte {
	out := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], seq)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[FrameHeaderSize:], payload)
	return out
}

// DecodeFrame parses the header from the front of raw and returns the
// sequence number and payload. If the declared length exceeds the
// trailing bytes available, the payload is clamped to the trailing
// length rather than erroring.
func DecodeFrame(raw []byte) (seq uint32, payload []byte, err error) {
	if len(raw) < FrameHeaderSize {
		return 0, nil, xerr.New(xerr.ProtocolViolation, "protocol.DecodeFrame", nil)
	}
	seq = binary.BigEndian.Uint32(raw[0:4])
	declared := binary.BigEndian.Uint32(raw[4:8])
	trailing := raw[FrameHeaderSize:]
	n := int(declared)
	if n > len(trailing) {
		n = len(trailing)
	}
	return seq, trailing[:n], nil
}
