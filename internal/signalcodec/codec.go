// Package signalcodec encodes and decodes the opaque session-description
// blob exchanged during handshake: JSON, optionally gzipped, then
// base32- or base64url-encoded, with a short ASCII prefix naming the
// transform used.
package signalcodec

import (
	"bytes"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/sharefileio/sharefile/internal/xerr"
)

// Prefix identifies which transform produced the body that follows it.
type Prefix string

const (
	PrefixRawB64 Prefix = "SHR0:"
	PrefixGzB64  Prefix = "SHR1:"
	PrefixGzB32  Prefix = "SHR2:"
	PrefixRawB32 Prefix = "SHR3:"
)

var allPrefixes = []Prefix{PrefixRawB64, PrefixGzB64, PrefixGzB32, PrefixRawB32}

// DescriptionType is the SDP role the encoded signal carries.
type DescriptionType string

const (
	TypeOffer  DescriptionType = "offer"
	TypeAnswer DescriptionType = "answer"
)

// Description is the payload carried by a signal: a local session
// description plus the capability bits the peer needs to know before the
// transport is even built.
type Description struct {
	Type        DescriptionType
	Description string
	Cfg         Capabilities
}

// Capabilities are the three capability bits a signal envelope carries:
// stun, fileUnordered, and fast (the sender's fast-transfer mode).
type Capabilities struct {
	Stun          bool
	FileUnordered bool
	Fast          bool
}

// wireEnvelope is the {t,s,c} JSON shape on the wire.
type wireEnvelope struct {
	T string     `json:"t"`
	S string     `json:"s"`
	C wireConfig `json:"c"`
}

type wireConfig struct {
	Stun          int `json:"stun"`
	FileUnordered int `json:"fileUnordered"`
	Fast          int `json:"fast"`
}

var b32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Encode builds a signal string. It emits PrefixGzB32 when compression is
// both enabled and available, PrefixRawB32 otherwise. The emitter never
// produces a base64url-prefixed signal; decoders must still accept one
// (Open Question in spec: base64url remains decode-only).
func Encode(desc Description, useCompression bool) (string, error) {
	env := wireEnvelope{
		T: string(desc.Type),
		S: desc.Description,
		C: wireConfig{
			Stun:          boolToInt(desc.Cfg.Stun),
			FileUnordered: boolToInt(desc.Cfg.FileUnordered),
			Fast:          boolToInt(desc.Cfg.Fast),
		},
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", xerr.New(xerr.InvalidFormat, "signalcodec.Encode", err)
	}

	if useCompression {
		compressed, err := gzipBytes(raw)
		if err == nil {
			return string(PrefixGzB32) + b32Encoding.EncodeToString(compressed), nil
		}
	}

	return string(PrefixRawB32) + b32Encoding.EncodeToString(raw), nil
}

// Decode inverts Encode, accepting any of the four prefixes.
func Decode(signal string) (Description, error) {
	prefix, body, err := splitPrefix(signal)
	if err != nil {
		return Description{}, err
	}

	decoded, err := decodeBody(prefix, body)
	if err != nil {
		return Description{}, err
	}

	raw := decoded
	if isGzipPrefix(prefix) {
		raw, err = gunzipBytes(decoded)
		if err != nil {
			return Description{}, xerr.New(xerr.DecompressionUnavailable, "signalcodec.Decode", err)
		}
	}

	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Description{}, xerr.New(xerr.DecodeFailed, "signalcodec.Decode", err)
	}

	descType := DescriptionType(env.T)
	if descType != TypeOffer && descType != TypeAnswer {
		return Description{}, xerr.New(xerr.InvalidFormat, "signalcodec.Decode", nil)
	}

	return Description{
		Type:        descType,
		Description: env.S,
		Cfg: Capabilities{
			Stun:          env.C.Stun != 0,
			FileUnordered: env.C.FileUnordered != 0,
			Fast:          env.C.Fast != 0,
		},
	}, nil
}

func splitPrefix(signal string) (Prefix, string, error) {
	for _, p := range allPrefixes {
		if strings.HasPrefix(signal, string(p)) {
			return p, signal[len(p):], nil
		}
	}
	return "", "", xerr.New(xerr.InvalidFormat, "signalcodec.splitPrefix", nil)
}

func isGzipPrefix(p Prefix) bool {
	return p == PrefixGzB64 || p == PrefixGzB32
}

func isB32Prefix(p Prefix) bool {
	return p == PrefixGzB32 || p == PrefixRawB32
}

func decodeBody(prefix Prefix, body string) ([]byte, error) {
	if isB32Prefix(prefix) {
		clean := stripWhitespace(strings.ToUpper(body))
		decoded, err := b32Encoding.DecodeString(clean)
		if err != nil {
			return nil, xerr.New(xerr.DecodeFailed, "signalcodec.decodeBody", err)
		}
		return decoded, nil
	}

	clean := stripWhitespace(body)
	decoded, err := base64.RawURLEncoding.DecodeString(clean)
	if err != nil {
		// Some emitters retain padding; tolerate it rather than fail outright.
		if decoded2, err2 := base64.URLEncoding.DecodeString(padBase64(clean)); err2 == nil {
			return decoded2, nil
		}
		return nil, xerr.New(xerr.DecodeFailed, "signalcodec.decodeBody", err)
	}
	return decoded, nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

func padBase64(s string) string {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RewriteHostCandidates rewrites "a=candidate:" lines whose 5th token ends
// in ".local" and whose candidate type is "host", replacing that token
// with ipv4. It is a no-op if ipv4 is empty or not a valid dotted IPv4
// address — the description is returned byte-identical.
func RewriteHostCandidates(description, ipv4 string) string {
	if !isValidIPv4(ipv4) {
		return description
	}

	lines := strings.Split(description, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(trimmed, "a=candidate:") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 8 {
			continue
		}
		// fields[4] is the candidate address; "typ" precedes the type token.
		if !strings.HasSuffix(fields[4], ".local") {
			continue
		}
		if !hasHostType(fields) {
			continue
		}
		fields[4] = ipv4
		rewritten := strings.Join(fields, " ")
		if strings.HasSuffix(line, "\r") {
			rewritten += "\r"
		}
		lines[i] = rewritten
	}
	return strings.Join(lines, "\n")
}

func hasHostType(fields []string) bool {
	for i, f := range fields {
		if f == "typ" && i+1 < len(fields) {
			return fields[i+1] == "host"
		}
	}
	return false
}

func isValidIPv4(s string) bool {
	if s == "" {
		return false
	}
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return net.ParseIP(s) != nil
}
