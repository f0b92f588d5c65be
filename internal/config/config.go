// Package config defines the Configuration record and persists it
// across process invocations via gorm over a pure-Go SQLite driver, the
// way a tracker server keeps its client/chunk state.
package config

import "net"

// Configuration is an immutable-per-session record snapshotted into a
// session.Session at construction. It is passed explicitly to every
// component that reads it; no package keeps it in a global.
type Configuration struct {
	UseStun                  bool
	UseCompression           bool
	UseUnorderedFileChannels bool
	UseStriping              bool
	Fast                     bool
	LANHostOverride          net.IP // nil = absent
	TURN                     *TURNConfig
}

// TURNConfig carries the optional TURN relay credentials and the
// force-relay toggle (maps to ICETransportPolicyRelay).
type TURNConfig struct {
	URL        string
	User       string
	Credential string
	ForceRelay bool
}

// Default returns the Configuration a fresh session starts with absent
// any persisted preferences: STUN on, compression on, ordered file
// channels, no striping, no TURN.
func Default() Configuration {
	return Configuration{
		UseStun:        true,
		UseCompression: true,
	}
}
