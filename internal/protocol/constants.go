// Package protocol defines the wire formats carried by a Peer Session:
// the binary file-channel frame header and the JSON control-channel
// message schemas.
package protocol

const (
	// FrameHeaderSize is the fixed 8-byte (seq, len) header preceding
	// every file-channel frame payload.
	FrameHeaderSize = 8

	// DefaultChunkSize is the target payload size per frame, before any
	// transport-imposed maximum message size clamps it down.
	DefaultChunkSize = 256 * 1024
)

// ControlType is the discriminator on every control-channel JSON message.
type ControlType string

const (
	ControlHello         ControlType = "hello"
	ControlHeartbeatPing ControlType = "hb-ping"
	ControlHeartbeatPong ControlType = "hb-pong"
	ControlText          ControlType = "text"
	ControlFileMeta      ControlType = "file-meta"
	ControlFileAccept    ControlType = "file-accept"
	ControlFileAcceptAck ControlType = "file-accept-ack"
	ControlFileDone      ControlType = "file-done"
	ControlFileCancel    ControlType = "file-cancel"
)
