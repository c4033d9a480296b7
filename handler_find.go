package chord

import "context"

// handleFindSuccessorSend answers a successor query if this node can
// resolve it, and relays it closer otherwise.
func (h *MessageHandler) handleFindSuccessorSend(ctx *MessageContext, p *Payload, msg FindSuccessorSend) error {
	action := h.ring.FindSuccessor(msg.Target)
	switch action.Kind {
	case ActionSome:
		return h.sendReport(FindSuccessorReport{ID: action.Some, Then: msg.Then, FingerIndex: msg.FingerIndex}, p)
	case ActionRemote:
		next := action.NextHop
		if msg.Strict {
			p.Relay.resetDestination(next)
		}
		return h.forwardSend(p, next)
	default:
		return newError(ErrRingUnexpectedAction, "find_successor(%s) returned an unexpected action", msg.Target)
	}
}

// handleFindSuccessorReport runs only at the original sender, once the
// generic REPORT forwarding step has exhausted the path.
func (h *MessageHandler) handleFindSuccessorReport(ctx *MessageContext, p *Payload, msg FindSuccessorReport) error {
	self := h.ring.Did()
	if msg.ID != self {
		if _, ok := h.transports.GetTransport(msg.ID); !ok {
			if err := h.Connect(context.Background(), msg.ID); err != nil && h.log != nil {
				h.log.Warnw("connect after find_successor report failed", "peer", msg.ID, "error", err)
			}
		}
	}

	if msg.Then == ThenFixFingerTable {
		h.ring.SetFinger(msg.FingerIndex, msg.ID)
		return nil
	}

	action := h.ring.UpdateSuccessor(msg.ID)
	if action.Kind != ActionRemote || action.Op.Kind != OpSyncVNodeWithSuccessor {
		return nil
	}
	return h.sendNew(SyncVNodeWithSuccessor{Values: action.Op.Values}, action.NextHop, action.NextHop)
}
