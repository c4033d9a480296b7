package chord

// ringActionNextHop extracts the single next-hop id from a RingAction
// that is either an immediate answer or a remote relay instruction:
// forwarding toward whatever find_successor said next, whether that is
// the resolved answer itself or a closest-preceding-node hop.
func ringActionNextHop(action RingAction) (Did, bool) {
	switch action.Kind {
	case ActionSome:
		return action.Some, true
	case ActionRemote:
		return action.NextHop, true
	default:
		return ZeroDid, false
	}
}

// handleJoinDHT folds the joining node into the ring. The next == ctx.Addr
// guard breaks the two-node mutual-join cycle: when two nodes connect
// directly, each already knows the other as its only successor, so
// ring.Join immediately resolves with no further relay.
func (h *MessageHandler) handleJoinDHT(ctx *MessageContext, p *Payload, msg JoinDHT) error {
	action := h.ring.Join(msg.ID)
	if action.Kind != ActionRemote {
		return nil
	}
	if action.NextHop == ctx.Addr || action.NextHop == h.ring.Did() {
		return nil
	}
	return h.sendNew(FindSuccessorSend{Target: msg.ID, Then: ThenUpdateSuccessor, Strict: false}, action.NextHop, msg.ID)
}

func (h *MessageHandler) handleLeaveDHT(ctx *MessageContext, p *Payload, msg LeaveDHT) error {
	h.ring.Remove(msg.ID)
	return nil
}

// handleConnectNodeSend either forwards the connect request closer to
// its target, or, at the target, answers the handshake.
func (h *MessageHandler) handleConnectNodeSend(ctx *MessageContext, p *Payload, msg ConnectNodeSend) error {
	self := h.ring.Did()
	if self != msg.Target {
		action := h.ring.FindSuccessor(msg.Target)
		next, ok := ringActionNextHop(action)
		if !ok {
			return newError(ErrRingUnexpectedAction, "find_successor(%s) produced no next hop", msg.Target)
		}
		return h.forwardSend(p, next)
	}

	if _, ok := h.transports.GetTransport(msg.Sender); ok {
		return h.sendReport(AlreadyConnected{AnswerID: self, TransportUUID: msg.TransportUUID}, p)
	}

	t, err := h.transports.NewTransport()
	if err != nil {
		return newError(ErrTransportFailure, "allocate transport: %v", err)
	}
	if _, err := t.RegisterRemoteInfo(msg.HandshakeInfo); err != nil {
		return newError(ErrInvalidPayload, "register remote handshake info: %v", err)
	}
	answer, err := t.GetHandshakeInfo(h.sm, HandshakeAnswer)
	if err != nil {
		return newError(ErrTransportFailure, "build handshake answer: %v", err)
	}
	if err := h.sendReport(ConnectNodeReport{
		AnswerID:      self,
		TransportUUID: msg.TransportUUID,
		HandshakeInfo: answer,
	}, p); err != nil {
		return err
	}
	// The answering side already has everything it needs: promote the
	// transport under the sender's id right away rather than waiting for
	// another round trip, then announce ourselves over it. Both ends of a
	// fresh handshake emit JoinDHT.
	h.transports.Register(msg.Sender, t)
	return h.SendJoinDHT(msg.Sender)
}

// handleConnectNodeReport runs only once the generic REPORT forwarding
// step in dispatch has determined this is the terminal hop, i.e. the
// original sender that initiated Connect.
func (h *MessageHandler) handleConnectNodeReport(ctx *MessageContext, p *Payload, msg ConnectNodeReport) error {
	t, ok := h.transports.PopPending(msg.TransportUUID)
	if !ok {
		return newError(ErrPendingTransportMissing, "no pending transport for uuid %s", msg.TransportUUID)
	}
	if _, err := t.RegisterRemoteInfo(msg.HandshakeInfo); err != nil {
		return newError(ErrInvalidPayload, "register remote answer: %v", err)
	}
	h.transports.Register(msg.AnswerID, t)
	return h.SendJoinDHT(msg.AnswerID)
}

func (h *MessageHandler) handleAlreadyConnected(ctx *MessageContext, p *Payload, msg AlreadyConnected) error {
	if _, ok := h.transports.PopPending(msg.TransportUUID); !ok {
		return newError(ErrPendingTransportMissing, "no pending transport for uuid %s", msg.TransportUUID)
	}
	return nil
}
