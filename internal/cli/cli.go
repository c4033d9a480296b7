// Package cli wires a stdlib flag.FlagSet onto an internal/config.Config.
// Environment variables load first, flags override.
package cli

import (
	"flag"
	"time"

	"github.com/croath/rings-node/internal/config"
)

// ParseFlags parses args (normally os.Args[1:]) into a Config seeded with
// defaults, overlaid first by environment variables and then by flags.
func ParseFlags(name string, args []string) (*config.Config, error) {
	cfg := config.Default()
	cfg.ApplyEnv()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	listen := fs.String("listen", cfg.ListenAddr, "address to listen for peer connections on (host:port)")
	join := fs.String("join", cfg.JoinAddr, "address of an existing ring member to join through")
	httpAddr := fs.String("http", cfg.HTTPAddr, "address to serve the JSON facade on, empty to disable")
	storePath := fs.String("store", cfg.StorePath, "path of the vnode log, empty for in-memory only")
	rpcTimeout := fs.Duration("rpc-timeout", cfg.RPCTimeout, "per-message transport send timeout")
	connMaxIdle := fs.Duration("conn-max-idle", cfg.ConnMaxIdle, "idle duration before a pooled peer connection is closed")
	stabilizeInterval := fs.Duration("stabilize-interval", cfg.StabilizeInterval, "notify_predecessor/fix_fingers tick interval")
	successorListSize := fs.Int("successor-list-size", cfg.SuccessorListSize, "number of successors tracked per node")
	replayWindow := fs.Int("replay-window", cfg.ReplayWindow, "number of recent transaction IDs remembered for replay detection")
	debug := fs.Bool("debug", cfg.Debug, "enable verbose development logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ListenAddr = *listen
	cfg.JoinAddr = *join
	cfg.HTTPAddr = *httpAddr
	cfg.StorePath = *storePath
	cfg.RPCTimeout = *rpcTimeout
	cfg.ConnMaxIdle = *connMaxIdle
	cfg.StabilizeInterval = *stabilizeInterval
	cfg.SuccessorListSize = *successorListSize
	cfg.ReplayWindow = *replayWindow
	cfg.Debug = *debug

	if cfg.StabilizeInterval <= 0 {
		cfg.StabilizeInterval = 20 * time.Second
	}
	return cfg, nil
}
