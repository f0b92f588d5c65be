// Package cmd wires the Cobra CLI surface (SPEC_FULL.md §6.4) onto the
// transport engine: send, receive, and a reference rendezvous bus.
package cmd

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/sharefileio/sharefile/internal/config"
)

var (
	flagStun       bool
	flagCompress   bool
	flagUnordered  bool
	flagStriping   bool
	flagFast       bool
	flagLANIP      string
	flagTURNURL    string
	flagTURNUser   string
	flagTURNCred   string
	flagTURNRelay  bool
	flagBusAddr    string
	flagConfigPath string
	flagSaveConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "sharefile",
	Short: "sharefile is a browser-to-browser file and message transfer engine",
	Long: `sharefile negotiates a direct encrypted WebRTC data link between two
peers over a short rendezvous code, then exchanges text and arbitrary-sized
files end-to-end. No file payload transits any intermediary.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&flagStun, "stun", true, "use STUN for ICE candidate gathering")
	flags.BoolVar(&flagCompress, "compress", true, "gzip the signal envelope when emitting it")
	flags.BoolVar(&flagUnordered, "unordered-file-channels", false, "open file channels unordered (requires per-seq reassembly)")
	flags.BoolVar(&flagStriping, "striping", false, "stripe file transfers across multiple channels when both peers support it")
	flags.BoolVar(&flagFast, "fast", false, "use the fast-mode pump budget and larger write-flush batches")
	flags.StringVar(&flagLANIP, "lan-ip", "", "rewrite .local host ICE candidates to this IPv4 address")
	flags.StringVar(&flagTURNURL, "turn-url", "", "TURN server URL (empty disables TURN)")
	flags.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	flags.StringVar(&flagTURNCred, "turn-credential", "", "TURN credential")
	flags.BoolVar(&flagTURNRelay, "turn-force-relay", false, "force ICE to relay exclusively through TURN")
	flags.StringVar(&flagBusAddr, "bus-addr", "127.0.0.1:4455", "rendezvous bus address (host:port)")
	flags.StringVar(&flagConfigPath, "config", "sharefile.db", "path to the persisted configuration sqlite file")
	flags.BoolVar(&flagSaveConfig, "save-config", false, "persist these flags as the default configuration")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(busCmd)
}

// configurationFromFlags builds a config.Configuration from the bound
// flags, optionally persisting it via internal/config.Store when
// --save-config is set (SPEC_FULL.md §6.3).
func configurationFromFlags() (config.Configuration, error) {
	cfg := config.Configuration{
		UseStun:                  flagStun,
		UseCompression:           flagCompress,
		UseUnorderedFileChannels: flagUnordered,
		UseStriping:              flagStriping,
		Fast:                     flagFast,
	}
	if flagLANIP != "" {
		if ip := net.ParseIP(flagLANIP); ip != nil {
			cfg.LANHostOverride = ip
		}
	}
	if flagTURNURL != "" {
		cfg.TURN = &config.TURNConfig{
			URL:        flagTURNURL,
			User:       flagTURNUser,
			Credential: flagTURNCred,
			ForceRelay: flagTURNRelay,
		}
	}

	if flagSaveConfig {
		store, err := config.Open(flagConfigPath)
		if err != nil {
			return cfg, err
		}
		if err := store.Save(cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
