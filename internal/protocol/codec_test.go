package protocol

import "testing"

func TestCodecRoundTripsEachMessageType(t *testing.T) {
	codec := NewCodec()

	msgs := []ControlMessage{
		Hello{V: 1, Caps: HelloCaps{Striping: true}},
		HeartbeatPing{T: 123},
		HeartbeatPong{T: 123},
		Text{TextBody: "hi"},
		FileMeta{ID: "f1", SID: "base", SC: 2, Name: "a.bin", Size: 300000},
		FileAccept{ID: "f1"},
		FileAcceptAck{ID: "f1"},
		FileDone{ID: "f1"},
		FileCancel{ID: "f1", Reason: "user cancelled"},
	}

	for _, msg := range msgs {
		encoded, err := codec.Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%#v) failed: %v", msg, err)
		}
		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", encoded, err)
		}
		if decoded.Type() != msg.Type() {
			t.Fatalf("decoded type %v, want %v", decoded.Type(), msg.Type())
		}
	}
}

func TestCodecHelloCapsWireIsIntNotBool(t *testing.T) {
	codec := NewCodec()
	encoded, err := codec.Encode(Hello{V: 1, Caps: HelloCaps{Striping: true}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !containsSubstr(encoded, `"striping":1`) {
		t.Fatalf("expected striping to be encoded as 1, got %q", encoded)
	}
}

func TestCodecDecodeNonJSONFallsBackToText(t *testing.T) {
	codec := NewCodec()
	decoded, err := codec.Decode("just a plain string")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	text, ok := decoded.(Text)
	if !ok {
		t.Fatalf("expected Text, got %T", decoded)
	}
	if text.TextBody != "just a plain string" {
		t.Fatalf("got %q", text.TextBody)
	}
}

func TestCodecDecodeUnknownTypeErrors(t *testing.T) {
	codec := NewCodec()
	if _, err := codec.Decode(`{"type":"not-a-real-type"}`); err == nil {
		t.Fatal("expected an error for an unknown control type")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	raw := EncodeFrame(7, payload)

	seq, got, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if seq != 7 {
		t.Fatalf("seq = %d, want 7", seq)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	raw := EncodeFrame(0, nil)
	if len(raw) != FrameHeaderSize {
		t.Fatalf("expected a bare header for an empty frame, got %d bytes", len(raw))
	}
	seq, payload, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if seq != 0 || len(payload) != 0 {
		t.Fatalf("expected seq=0 len=0, got seq=%d len=%d", seq, len(payload))
	}
}

func TestFrameClampsOversizedDeclaredLength(t *testing.T) {
	raw := EncodeFrame(1, []byte("abc"))
	// Corrupt the declared length to claim more bytes than are present.
	raw[7] = 0xFF

	_, payload, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if len(payload) != 3 {
		t.Fatalf("expected payload clamped to 3 trailing bytes, got %d", len(payload))
	}
}

func containsSubstr(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
