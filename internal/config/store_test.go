package config

import (
	"net"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "config.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cfg := Configuration{
		UseStun:                  true,
		UseCompression:           false,
		UseUnorderedFileChannels: true,
		UseStriping:              true,
		Fast:                     true,
		LANHostOverride:          net.ParseIP("192.168.1.5"),
		TURN: &TURNConfig{
			URL:        "turn:example.com:3478",
			User:       "u",
			Credential: "c",
			ForceRelay: true,
		},
	}

	if err := s.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.UseStun != cfg.UseStun || got.Fast != cfg.Fast || got.UseStriping != cfg.UseStriping {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.LANHostOverride == nil || !got.LANHostOverride.Equal(cfg.LANHostOverride) {
		t.Fatalf("LAN override mismatch: %v", got.LANHostOverride)
	}
	if got.TURN == nil || got.TURN.URL != cfg.TURN.URL || !got.TURN.ForceRelay {
		t.Fatalf("TURN mismatch: %+v", got.TURN)
	}
}

func TestStoreLoadDefaultWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "config.sqlite3"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if got.UseStun != want.UseStun || got.UseCompression != want.UseCompression {
		t.Fatalf("expected Default(), got %+v", got)
	}
}
