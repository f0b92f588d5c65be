package signalcodec

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Description{
		{Type: TypeOffer, Description: "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n", Cfg: Capabilities{Stun: true, FileUnordered: false, Fast: true}},
		{Type: TypeAnswer, Description: "v=0\r\n", Cfg: Capabilities{Stun: false, FileUnordered: true, Fast: false}},
	}

	for _, useCompression := range []bool{true, false} {
		for _, desc := range cases {
			encoded, err := Encode(desc, useCompression)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded != desc {
				t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, desc)
			}
		}
	}
}

func TestEncodeEmitsB32Prefix(t *testing.T) {
	encoded, err := Encode(Description{Type: TypeOffer, Description: "x"}, true)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(encoded, string(PrefixGzB32)) {
		t.Fatalf("expected gzip+base32 prefix, got %q", encoded[:5])
	}

	encoded, err = Encode(Description{Type: TypeOffer, Description: "x"}, false)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(encoded, string(PrefixRawB32)) {
		t.Fatalf("expected raw base32 prefix, got %q", encoded[:5])
	}
}

func TestDecodeAcceptsAllFourPrefixes(t *testing.T) {
	desc := Description{Type: TypeOffer, Description: "hello", Cfg: Capabilities{Stun: true}}
	raw, err := Encode(desc, false)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	body := raw[len(PrefixRawB32):]

	gz, err := Encode(desc, true)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	gzBody := gz[len(PrefixGzB32):]

	rawBytes, err := b32Encoding.DecodeString(body)
	if err != nil {
		t.Fatalf("base32 decode of raw body failed: %v", err)
	}
	gzBytes, err := b32Encoding.DecodeString(gzBody)
	if err != nil {
		t.Fatalf("base32 decode of gzip body failed: %v", err)
	}

	for _, signal := range []string{
		string(PrefixRawB32) + body,
		string(PrefixGzB32) + gzBody,
		string(PrefixRawB64) + base64.RawURLEncoding.EncodeToString(rawBytes),
		string(PrefixGzB64) + base64.RawURLEncoding.EncodeToString(gzBytes),
	} {
		decoded, err := Decode(signal)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", signal, err)
		}
		if decoded != desc {
			t.Fatalf("Decode(%q) = %+v, want %+v", signal, decoded, desc)
		}
	}
}

func TestDecodeRejectsUnknownPrefix(t *testing.T) {
	if _, err := Decode("XXXX:whatever"); err == nil {
		t.Fatal("expected an error for an unknown prefix")
	}
}

func TestDecodeIsCaseInsensitiveAndSkipsWhitespace(t *testing.T) {
	encoded, err := Encode(Description{Type: TypeOffer, Description: "y"}, false)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	body := encoded[len(PrefixRawB32):]
	lower := string(PrefixRawB32) + " " + strings.ToLower(body[:len(body)/2]) + "\n" + strings.ToLower(body[len(body)/2:])

	decoded, err := Decode(lower)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Description != "y" {
		t.Fatalf("got %q, want %q", decoded.Description, "y")
	}
}

func TestRewriteHostCandidates(t *testing.T) {
	sdp := "a=candidate:1 1 UDP 2130706431 abc123.local 54321 typ host\r\n" +
		"a=candidate:2 1 UDP 2130706431 8.8.8.8 54321 typ srflx\r\n"

	rewritten := RewriteHostCandidates(sdp, "192.168.1.5")
	if !strings.Contains(rewritten, "192.168.1.5 54321 typ host") {
		t.Fatalf("expected host candidate to be rewritten, got:\n%s", rewritten)
	}
	if !strings.Contains(rewritten, "8.8.8.8 54321 typ srflx") {
		t.Fatalf("srflx candidate should be left alone, got:\n%s", rewritten)
	}
}

func TestRewriteHostCandidatesNoOpOnInvalidIPv4(t *testing.T) {
	sdp := "a=candidate:1 1 UDP 2130706431 abc123.local 54321 typ host\r\n"
	rewritten := RewriteHostCandidates(sdp, "not-an-ip")
	if rewritten != sdp {
		t.Fatalf("expected byte-identical output for invalid override, got:\n%s", rewritten)
	}

	rewritten = RewriteHostCandidates(sdp, "")
	if rewritten != sdp {
		t.Fatalf("expected byte-identical output for absent override, got:\n%s", rewritten)
	}
}
