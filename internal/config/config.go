// Package config loads the settings a ringsd process needs beyond what
// chord.Config itself carries: listen/seed addresses, timeouts, and the
// debug-logging toggle, with an env-var overlay for containerized
// deployments.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full set of knobs ringsd's main() needs to build a
// chord.Config and its transport manager.
type Config struct {
	// ListenAddr is the host:port the local gRPC server binds and
	// advertises in handshake offers.
	ListenAddr string
	// JoinAddr, if non-empty, is an existing ring member to hand-shake
	// with and send JoinDHT to at startup.
	JoinAddr string

	RPCTimeout        time.Duration
	ConnMaxIdle       time.Duration
	StabilizeInterval time.Duration
	SuccessorListSize int
	ReplayWindow      int

	// HTTPAddr, if non-empty, serves the JSON facade (internal/jsonrpc).
	HTTPAddr string

	// StorePath, if non-empty, is the append-only vnode log replayed on
	// startup.
	StorePath string

	Debug bool
}

// Default returns the out-of-the-box settings a standalone node starts
// with before flags or environment overlays are applied.
func Default() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:4001",
		RPCTimeout:        2 * time.Second,
		ConnMaxIdle:       5 * time.Minute,
		StabilizeInterval: 20 * time.Second,
		SuccessorListSize: 3,
		ReplayWindow:      4096,
	}
}

// ApplyEnv overlays RINGSD_* environment variables onto c, for deployments
// that prefer env configuration over flags (e.g. container orchestration).
// Flags parsed afterward by internal/cli still take precedence.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RINGSD_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("RINGSD_JOIN"); v != "" {
		c.JoinAddr = v
	}
	if v := os.Getenv("RINGSD_HTTP"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("RINGSD_STORE"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("RINGSD_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v := os.Getenv("RINGSD_RPC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RPCTimeout = d
		}
	}
}
