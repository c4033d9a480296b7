package chord

// handleSyncVNodeWithSuccessor merges migrated values into the local
// vnode store, which then owns them.
func (h *MessageHandler) handleSyncVNodeWithSuccessor(ctx *MessageContext, p *Payload, msg SyncVNodeWithSuccessor) error {
	h.ring.Store().Merge(msg.Values)
	return nil
}

// responsibleFor reports whether this node owns id: the id lies in
// (predecessor, self]. Before a predecessor is known the node claims
// everything find_successor resolves to itself.
func (h *MessageHandler) responsibleFor(id Did) bool {
	self := h.ring.Did()
	if pred, ok := h.ring.Predecessor(); ok {
		return between(pred, self, id)
	}
	action := h.ring.FindSuccessor(id)
	return action.Kind == ActionSome && action.Some == self
}

// handleStoreVNode is the DHT put: store locally if this node is
// responsible for the id, otherwise route by find_successor.
func (h *MessageHandler) handleStoreVNode(ctx *MessageContext, p *Payload, msg StoreVNode) error {
	if h.responsibleFor(msg.ID) {
		h.ring.Store().Put(msg.ID, msg.Value)
		return nil
	}
	action := h.ring.FindSuccessor(msg.ID)
	next, ok := ringActionNextHop(action)
	if !ok || next == h.ring.Did() {
		h.ring.Store().Put(msg.ID, msg.Value)
		return nil
	}
	return h.forwardSend(p, next)
}

// handleSearchVNode is the DHT get: routed the same way as a put,
// answered via FoundVNode on the reverse path once the responsible node
// is reached. An absent value still produces a FoundVNode, with a nil
// body, so the searcher is not left waiting.
func (h *MessageHandler) handleSearchVNode(ctx *MessageContext, p *Payload, msg SearchVNode) error {
	if h.responsibleFor(msg.ID) {
		value, _ := h.ring.Store().Get(msg.ID)
		return h.sendReport(FoundVNode{ID: msg.ID, Value: value}, p)
	}
	action := h.ring.FindSuccessor(msg.ID)
	next, ok := ringActionNextHop(action)
	if !ok || next == h.ring.Did() {
		value, _ := h.ring.Store().Get(msg.ID)
		return h.sendReport(FoundVNode{ID: msg.ID, Value: value}, p)
	}
	return h.forwardSend(p, next)
}

// handleFoundVNode hands the resolved (possibly absent) value to the
// application callback, once the REPORT has returned to its originator.
func (h *MessageHandler) handleFoundVNode(ctx *MessageContext, p *Payload, msg FoundVNode) error {
	cb := h.getCallback()
	if cb == nil {
		return nil
	}
	return cb.BuiltinMessage(ctx, p)
}

// handleMultiCall dispatches every inner message independently under the
// same origin verification; one inner failure never halts the rest.
func (h *MessageHandler) handleMultiCall(ctx *MessageContext, p *Payload, msg MultiCall) error {
	for _, inner := range msg.Messages {
		innerPayload := &Payload{
			TxID:               p.TxID,
			OriginVerification: p.OriginVerification,
			Verification:       p.Verification,
			Relay:              p.Relay,
			Data:               inner,
			Addr:               p.Addr,
		}
		if err := h.dispatch(innerPayload); err != nil && h.log != nil {
			h.log.Warnw("multicall inner message failed", "kind", inner.Kind(), "error", err)
		}
	}
	return nil
}

// StoreValue is the local entry point for a DHT put: store directly if
// this node is responsible for id, otherwise author a StoreVNode and send
// it toward the responsible node.
func (h *MessageHandler) StoreValue(id Did, value []byte) error {
	if h.responsibleFor(id) {
		h.ring.Store().Put(id, value)
		return nil
	}
	action := h.ring.FindSuccessor(id)
	next, ok := ringActionNextHop(action)
	if !ok || next == h.ring.Did() {
		h.ring.Store().Put(id, value)
		return nil
	}
	return h.sendNew(StoreVNode{ID: id, Value: value}, next, next)
}

// SearchValue is the local entry point for a DHT get. If this node holds
// the value it is returned immediately. If this node is itself responsible
// for id, or the route resolves back to it, (nil, false) is returned and
// nothing is sent. Otherwise a SearchVNode is routed toward the
// responsible node and (nil, false) is returned — the eventual FoundVNode
// arrives through the message callback.
func (h *MessageHandler) SearchValue(id Did) ([]byte, bool, error) {
	if v, ok := h.ring.Store().Get(id); ok {
		return v, true, nil
	}
	if h.responsibleFor(id) {
		return nil, false, nil
	}
	action := h.ring.FindSuccessor(id)
	next, ok := ringActionNextHop(action)
	if !ok || next == h.ring.Did() {
		return nil, false, nil
	}
	return nil, false, h.sendNew(SearchVNode{ID: id}, next, next)
}

// handleCustomMessage passes the payload through to the application
// callback, never touching ring state.
func (h *MessageHandler) handleCustomMessage(ctx *MessageContext, p *Payload, msg CustomMessage) error {
	cb := h.getCallback()
	if cb == nil {
		return errNoCallback
	}
	return cb.CustomMessage(ctx, p)
}
