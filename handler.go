package chord

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MessageCallback receives payloads at the node where they terminate:
// CustomMessage is called for every CustomMessage, and BuiltinMessage for
// each FoundVNode answer arriving back at the node that searched. No
// other built-in message is passed to the callback. It never mutates ring
// state.
type MessageCallback interface {
	CustomMessage(ctx *MessageContext, payload *Payload) error
	BuiltinMessage(ctx *MessageContext, payload *Payload) error
}

// MessageContext is the per-dispatch context handed to handler functions
// and to the callback.
type MessageContext struct {
	Addr  Did
	Relay RelayHeader
}

// MessageHandler is the dispatch core: one function per message variant,
// consuming ring state and the transport manager, optionally emitting
// further payloads. It holds the single callback slot under its own lock.
type MessageHandler struct {
	ring       *Ring
	sm         SessionManager
	transports TransportManager
	replay     *ReplayCache
	log        *zap.SugaredLogger

	cbMu     sync.Mutex
	callback MessageCallback
}

// NewMessageHandler wires together the ring state, cryptographic
// identity, transport manager, and replay cache that every handler
// function needs.
func NewMessageHandler(ring *Ring, sm SessionManager, tm TransportManager, replay *ReplayCache, log *zap.SugaredLogger) *MessageHandler {
	if replay == nil {
		replay = NewReplayCache(0)
	}
	return &MessageHandler{ring: ring, sm: sm, transports: tm, replay: replay, log: log}
}

// SetCallback installs the single application callback, replacing any
// previous one.
func (h *MessageHandler) SetCallback(cb MessageCallback) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callback = cb
}

func (h *MessageHandler) getCallback() MessageCallback {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	return h.callback
}

// deliver encodes and sends a payload to peerID via the transport
// manager. A failed send is an error for the caller to log, never a
// reason to take the node down.
func (h *MessageHandler) deliver(peerID Did, p *Payload) error {
	raw := EncodePayload(p)
	if err := h.transports.SendPayload(peerID, raw); err != nil {
		return newError(ErrTransportFailure, "send to %s: %v", peerID, err)
	}
	return nil
}

// sendNew authors, signs, and delivers a brand-new SEND payload.
func (h *MessageHandler) sendNew(data Message, next, destination Did) error {
	relay := newSendRelay(h.sm.Did(), next, destination)
	p, err := newPayload(h.sm, data, relay)
	if err != nil {
		return err
	}
	return h.deliver(next, p)
}

// forwardSend relays an in-flight SEND payload onward to next, appending
// self to the recorded path.
func (h *MessageHandler) forwardSend(p *Payload, next Did) error {
	p.Relay.relay(h.sm.Did(), &next)
	if err := p.resign(h.sm); err != nil {
		return err
	}
	return h.deliver(next, p)
}

// sendReport converts a just-terminated SEND payload into its REPORT
// reply and delivers the first hop back along the recorded path, or
// handles local completion directly if there is no path left to
// traverse.
func (h *MessageHandler) sendReport(data Message, origSend *Payload) error {
	relay := origSend.Relay.toReport(h.sm.Did())
	p, err := newPayload(h.sm, data, relay)
	if err != nil {
		return err
	}
	if p.Relay.NextHop == nil {
		// Degenerate case: the responder is also the origin (single-hop
		// round trip). Dispatch locally instead of sending to ourselves.
		return h.dispatchLocal(p)
	}
	return h.deliver(*p.Relay.NextHop, p)
}

// dispatchLocal runs the terminal handler for a payload that has nowhere
// further to go, without going through the wire.
func (h *MessageHandler) dispatchLocal(p *Payload) error {
	return h.dispatch(p)
}

// HandleInbound decodes, verifies, and dispatches one raw inbound
// payload. Errors are returned to the caller (the dispatch loop), which
// logs and continues; HandleInbound itself never panics on malformed
// input.
func (h *MessageHandler) HandleInbound(raw []byte) error {
	p, err := DecodePayload(raw)
	if err != nil {
		return err
	}
	if err := p.verify(h.sm); err != nil {
		return err
	}
	if h.replay.CheckAndRemember(p.TxID) {
		return newError(ErrReplayDetected, "tx_id %x already seen", p.TxID)
	}
	return h.dispatch(p)
}

// dispatch implements the generic REPORT forward-or-terminate step, then
// hands SEND payloads and terminal REPORT payloads to their per-variant
// handler.
func (h *MessageHandler) dispatch(p *Payload) error {
	if p.Relay.Method == RelayReport {
		p.Relay.relay(h.sm.Did(), nil)
		if p.Relay.NextHop != nil {
			next := *p.Relay.NextHop
			if err := p.resign(h.sm); err != nil {
				return err
			}
			return h.deliver(next, p)
		}
	}

	ctx := &MessageContext{Addr: p.Addr, Relay: p.Relay}

	switch msg := p.Data.(type) {
	case JoinDHT:
		return h.handleJoinDHT(ctx, p, msg)
	case LeaveDHT:
		return h.handleLeaveDHT(ctx, p, msg)
	case ConnectNodeSend:
		return h.handleConnectNodeSend(ctx, p, msg)
	case ConnectNodeReport:
		return h.handleConnectNodeReport(ctx, p, msg)
	case AlreadyConnected:
		return h.handleAlreadyConnected(ctx, p, msg)
	case FindSuccessorSend:
		return h.handleFindSuccessorSend(ctx, p, msg)
	case FindSuccessorReport:
		return h.handleFindSuccessorReport(ctx, p, msg)
	case NotifyPredecessorSend:
		return h.handleNotifyPredecessorSend(ctx, p, msg)
	case NotifyPredecessorReport:
		return h.handleNotifyPredecessorReport(ctx, p, msg)
	case SyncVNodeWithSuccessor:
		return h.handleSyncVNodeWithSuccessor(ctx, p, msg)
	case StoreVNode:
		return h.handleStoreVNode(ctx, p, msg)
	case SearchVNode:
		return h.handleSearchVNode(ctx, p, msg)
	case FoundVNode:
		return h.handleFoundVNode(ctx, p, msg)
	case MultiCall:
		return h.handleMultiCall(ctx, p, msg)
	case CustomMessage:
		return h.handleCustomMessage(ctx, p, msg)
	default:
		return newError(ErrInternal, "unhandled message kind %T", msg)
	}
}

// ListenOnce drains and dispatches exactly one inbound payload, or
// returns ctx.Err() if ctx is cancelled first. Used by tests and
// single-threaded event-loop callers.
func (h *MessageHandler) ListenOnce(ctx context.Context) error {
	select {
	case raw := <-h.transports.IncomingMessages():
		if err := h.HandleInbound(raw); err != nil {
			if h.log != nil {
				h.log.Warnw("inbound payload rejected", "error", err)
			}
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen runs the continuous dispatch loop until ctx is cancelled,
// log-and-continuing on every per-payload error. This is the form the
// long-running binary uses.
func (h *MessageHandler) Listen(ctx context.Context) {
	for {
		select {
		case raw := <-h.transports.IncomingMessages():
			if err := h.HandleInbound(raw); err != nil && h.log != nil {
				h.log.Warnw("inbound payload rejected", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Connect builds a new transport toward target, generates an offer, and
// sends a ConnectNodeSend into the ring so it can be routed hop by hop
// to target, which answers on the reverse path.
func (h *MessageHandler) Connect(ctx context.Context, target Did) error {
	_, successors := h.ring.SuccessorSnapshot()
	if len(successors) == 0 {
		return newError(ErrRingUnexpectedAction, "no known successor to route connect through")
	}
	next := successors[len(successors)-1]

	t, err := h.transports.NewTransport()
	if err != nil {
		return newError(ErrTransportFailure, "allocate transport: %v", err)
	}
	offer, err := t.GetHandshakeInfo(h.sm, HandshakeOffer)
	if err != nil {
		return newError(ErrTransportFailure, "build handshake offer: %v", err)
	}

	uuid, err := newTxID()
	if err != nil {
		return err
	}
	uuidStr := uuid.String()
	h.transports.PushPending(uuidStr, t)

	return h.sendNew(ConnectNodeSend{
		Sender:        h.sm.Did(),
		Target:        target,
		TransportUUID: uuidStr,
		HandshakeInfo: offer,
	}, next, target)
}

// SendJoinDHT authors and sends the JoinDHT announcing this node to
// existing; both sides of a fresh handshake do this.
func (h *MessageHandler) SendJoinDHT(existing Did) error {
	return h.sendNew(JoinDHT{ID: h.sm.Did()}, existing, existing)
}

var errNoCallback = errors.New("no message callback installed")
