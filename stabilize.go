package chord

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultStabilizeInterval is how often a node runs its stabilization
// pass when the caller does not override it.
const DefaultStabilizeInterval = 20 * time.Second

// Stabilizer is the periodic convergence task: each tick it runs
// notify_predecessor then fix_fingers, logging and continuing past any
// per-step error. Cancellation is cooperative; it exits at the next tick
// boundary after ctx is done.
type Stabilizer struct {
	ring     *Ring
	handler  *MessageHandler
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewStabilizer builds a stabilizer driving ring via handler on the given
// interval. A non-positive interval falls back to DefaultStabilizeInterval.
func NewStabilizer(ring *Ring, handler *MessageHandler, interval time.Duration, log *zap.SugaredLogger) *Stabilizer {
	if interval <= 0 {
		interval = DefaultStabilizeInterval
	}
	return &Stabilizer{ring: ring, handler: handler, interval: interval, log: log}
}

// Run ticks until ctx is cancelled.
func (s *Stabilizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-ctx.Done():
			return
		}
	}
}

// tick runs exactly one notify_predecessor + fix_fingers pass.
func (s *Stabilizer) tick() {
	if err := s.notifyPredecessor(); err != nil && s.log != nil {
		s.log.Warnw("notify_predecessor step failed", "error", err)
	}
	if err := s.fixFingers(); err != nil && s.log != nil {
		s.log.Warnw("fix_fingers step failed", "error", err)
	}
}

// notifyPredecessor tells every known successor about this node. It is
// skipped entirely when self is still its own successor.min(): there is
// no one to notify yet.
func (s *Stabilizer) notifyPredecessor() error {
	self := s.ring.Did()
	min, successors := s.ring.SuccessorSnapshot()
	if self == min {
		return nil
	}
	var firstErr error
	for _, succ := range successors {
		if err := s.handler.sendNew(NotifyPredecessorSend{ID: self}, succ, succ); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fixFingers probes one finger slot per tick, asking the ring to resolve
// the successor of self + 2^index.
func (s *Stabilizer) fixFingers() error {
	action := s.ring.FixFingers()
	if action.Kind != ActionRemote || action.Op.Kind != OpFindSuccessorForFix {
		return nil
	}
	return s.handler.sendNew(FindSuccessorSend{
		Target:      action.Op.Target,
		Then:        ThenFixFingerTable,
		Strict:      true,
		FingerIndex: action.Op.Index,
	}, action.NextHop, action.NextHop)
}
