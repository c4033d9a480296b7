package chord

// handleNotifyPredecessorSend records the sender as a predecessor
// candidate and reports back our own id so the sender can refresh its
// successor list.
func (h *MessageHandler) handleNotifyPredecessorSend(ctx *MessageContext, p *Payload, msg NotifyPredecessorSend) error {
	h.ring.Notify(msg.ID)
	return h.sendReport(NotifyPredecessorReport{ID: h.ring.Did()}, p)
}

// handleNotifyPredecessorReport only ever runs as a REPORT once the
// generic forwarding step in dispatch has reached the original sender.
func (h *MessageHandler) handleNotifyPredecessorReport(ctx *MessageContext, p *Payload, msg NotifyPredecessorReport) error {
	if ctx.Relay.Method != RelayReport {
		return newError(ErrInvalidPayload, "notify report carried method %s", ctx.Relay.Method)
	}
	action := h.ring.UpdateSuccessor(msg.ID)
	if action.Kind != ActionRemote || action.Op.Kind != OpSyncVNodeWithSuccessor {
		return nil
	}
	return h.sendNew(SyncVNodeWithSuccessor{Values: action.Op.Values}, action.NextHop, action.NextHop)
}
