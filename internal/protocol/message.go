package protocol

import "encoding/json"

// ControlMessage is implemented by every message that can travel on the
// control channel. Type() is the JSON discriminator.
type ControlMessage interface {
	Type() ControlType
}

// IntBool marshals as the JSON integers 0/1 rather than true/false, to
// match wire schemas that spell booleans as 0|1.
type IntBool bool

func (b IntBool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (b *IntBool) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		var bb bool
		if err2 := json.Unmarshal(data, &bb); err2 != nil {
			return err
		}
		*b = IntBool(bb)
		return nil
	}
	*b = n != 0
	return nil
}

// Hello is the first message sent once the control channel opens. It
// must precede any hb-* message.
type Hello struct {
	V    int       `json:"v"`
	Caps HelloCaps `json:"caps"`
}

type HelloCaps struct {
	Striping IntBool `json:"striping"`
}

func (Hello) Type() ControlType { return ControlHello }

type HeartbeatPing struct {
	T int64 `json:"t"`
}

func (HeartbeatPing) Type() ControlType { return ControlHeartbeatPing }

type HeartbeatPong struct {
	T int64 `json:"t"`
}

func (HeartbeatPong) Type() ControlType { return ControlHeartbeatPong }

// Text carries a user-level text message, or a raw control-channel
// string that failed JSON parsing, delivered upstream wrapped as
// {type:"text", text: <raw>}.
type Text struct {
	TextBody string `json:"text"`
}

func (Text) Type() ControlType { return ControlText }

// FileMeta begins a file transfer: sid is the stripe base, sc the stripe
// count.
type FileMeta struct {
	ID   string `json:"id"`
	SID  string `json:"sid"`
	SC   int    `json:"sc"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (FileMeta) Type() ControlType { return ControlFileMeta }

type FileAccept struct {
	ID string `json:"id"`
}

func (FileAccept) Type() ControlType { return ControlFileAccept }

type FileAcceptAck struct {
	ID string `json:"id"`
}

func (FileAcceptAck) Type() ControlType { return ControlFileAcceptAck }

type FileDone struct {
	ID string `json:"id"`
}

func (FileDone) Type() ControlType { return ControlFileDone }

type FileCancel struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (FileCancel) Type() ControlType { return ControlFileCancel }
