//
// Package chord implements a structured peer-to-peer overlay: a Chord
// ring state machine, a signed message relay and dispatch engine, and a
// periodic stabilizer that converges the two under churn.
//
package chord

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config wires together the external collaborators a Node needs: its
// cryptographic identity, its transport manager, its logger, and the
// stabilizer cadence. Everything is passed by handle; nothing is a
// package global.
type Config struct {
	SessionManager    SessionManager
	Transports        TransportManager
	Logger            *zap.SugaredLogger
	StabilizeInterval time.Duration
	SuccessorListSize int
	ReplayWindow      int
}

// DefaultConfig returns a Config with the default stabilize cadence,
// successor list size, and replay window.
func DefaultConfig(sm SessionManager, tm TransportManager, log *zap.SugaredLogger) *Config {
	return &Config{
		SessionManager:    sm,
		Transports:        tm,
		Logger:            log,
		StabilizeInterval: DefaultStabilizeInterval,
		SuccessorListSize: DefaultSuccessorListSize,
		ReplayWindow:      4096,
	}
}

// Node is one running overlay participant: its ring state, its dispatch
// core, and its stabilizer, all sharing the identity and transport
// manager named in Config.
type Node struct {
	Config     *Config
	Ring       *Ring
	Handler    *MessageHandler
	Stabilizer *Stabilizer

	cancel context.CancelFunc
}

// Create builds a new, empty ring around conf and starts its dispatch
// loop and stabilizer running in the background. The returned Node has no
// peers yet; call Join to connect it to an existing ring.
func Create(conf *Config) (*Node, error) {
	ring := NewRingSized(conf.SessionManager.Did(), conf.SuccessorListSize)
	handler := NewMessageHandler(ring, conf.SessionManager, conf.Transports, NewReplayCache(conf.ReplayWindow), conf.Logger)
	stabilizer := NewStabilizer(ring, handler, conf.StabilizeInterval, conf.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	node := &Node{Config: conf, Ring: ring, Handler: handler, Stabilizer: stabilizer, cancel: cancel}

	go handler.Listen(ctx)
	go stabilizer.Run(ctx)

	return node, nil
}

// Join builds a new node the same way Create does, then announces it to
// an existing ring member via JoinDHT. The caller is responsible for
// having already established a transport to existing (e.g. via
// MessageHandler.Connect) before calling Join.
func Join(conf *Config, existing Did) (*Node, error) {
	node, err := Create(conf)
	if err != nil {
		return nil, err
	}
	if err := node.Handler.SendJoinDHT(existing); err != nil {
		node.Shutdown()
		return nil, err
	}
	return node, nil
}

// Leave notifies every known successor via LeaveDHT before shutting the
// node down. Peers that miss the notification still converge through
// stabilization.
func (n *Node) Leave() error {
	self := n.Ring.Did()
	var firstErr error
	for _, succ := range n.Ring.Leave() {
		if err := n.Handler.sendNew(LeaveDHT{ID: self}, succ, succ); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.Shutdown()
	return firstErr
}

// Shutdown stops the node's dispatch loop and stabilizer. It does not
// notify peers; callers that want a graceful departure should call Leave
// instead.
func (n *Node) Shutdown() {
	n.cancel()
}
