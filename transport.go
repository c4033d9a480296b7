package chord

import (
	"sync"

	"github.com/pkg/errors"
)

// HandshakeKind distinguishes an initial offer from its answer.
type HandshakeKind uint8

const (
	HandshakeOffer HandshakeKind = iota
	HandshakeAnswer
)

// Transport is one pairwise data-channel connection. The core never
// depends on a concrete transport; it only ever holds ids and talks to
// peers through TransportManager.
type Transport interface {
	// GetHandshakeInfo produces the encoded offer or answer this side of
	// the handshake contributes.
	GetHandshakeInfo(sm SessionManager, kind HandshakeKind) ([]byte, error)
	// RegisterRemoteInfo consumes the peer's encoded handshake info and
	// returns the peer id it identifies.
	RegisterRemoteInfo(info []byte) (Did, error)
	// IsConnected reports whether the data channel is currently open.
	IsConnected() bool
	// Close tears down the transport.
	Close() error
	// Send delivers one already-encoded payload to the remote peer.
	Send(payload []byte) error
}

// TransportManager is the adapter the core uses to find, create, and
// tear down pairwise transports, and to funnel inbound payloads into the
// dispatch loop.
type TransportManager interface {
	// NewTransport allocates a fresh, unconnected transport.
	NewTransport() (Transport, error)
	// GetTransport looks up an established transport to peerID.
	GetTransport(peerID Did) (Transport, bool)
	// Register promotes a transport to the active table under peerID.
	Register(peerID Did, t Transport)
	// RemoveTransport tears down and forgets the transport to peerID.
	RemoveTransport(peerID Did)
	// PushPending stashes a transport awaiting its ConnectNodeReport,
	// keyed by the transport_uuid that will come back in the answer.
	PushPending(uuid string, t Transport)
	// GetPending looks up a pending transport without removing it.
	GetPending(uuid string) (Transport, bool)
	// PopPending retrieves and forgets a pending transport by uuid.
	PopPending(uuid string) (Transport, bool)
	// SendPayload delivers bytes to peerID's registered transport.
	SendPayload(peerID Did, payload []byte) error
	// IncomingMessages returns the channel of inbound, not-yet-decoded
	// payload bytes this manager has received from any transport.
	IncomingMessages() <-chan []byte
}

// InMemoryNetwork links InMemoryTransportManagers by node id so that a
// handshake can complete without any real sockets: RegisterRemoteInfo
// looks the peer's manager up here and wires the transport directly.
type InMemoryNetwork struct {
	mu       sync.Mutex
	managers map[Did]*InMemoryTransportManager
}

// NewInMemoryNetwork builds an empty fabric.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{managers: make(map[Did]*InMemoryTransportManager)}
}

func (n *InMemoryNetwork) attach(id Did, m *InMemoryTransportManager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.managers[id] = m
}

func (n *InMemoryNetwork) lookup(id Did) (*InMemoryTransportManager, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.managers[id]
	return m, ok
}

// InMemoryTransportManager is a TransportManager backed by Go channels,
// useful for tests and in-process multi-node setups. It implements the
// same contract as the gRPC-backed manager in net_grpc.go, so handler
// code is agnostic to which one is wired in.
type InMemoryTransportManager struct {
	mu      sync.Mutex
	active  map[Did]Transport
	pending map[string]Transport
	inbound chan []byte

	network *InMemoryNetwork
	self    Did
}

// NewInMemoryTransportManager builds an empty manager.
func NewInMemoryTransportManager() *InMemoryTransportManager {
	return &InMemoryTransportManager{
		active:  make(map[Did]Transport),
		pending: make(map[string]Transport),
		inbound: make(chan []byte, 256),
	}
}

// AttachNetwork registers this manager on the fabric under self, letting
// other managers complete handshakes against it by id.
func (m *InMemoryTransportManager) AttachNetwork(n *InMemoryNetwork, self Did) {
	m.mu.Lock()
	m.network = n
	m.self = self
	m.mu.Unlock()
	n.attach(self, m)
}

func (m *InMemoryTransportManager) NewTransport() (Transport, error) {
	return newInMemoryTransport(m), nil
}

func (m *InMemoryTransportManager) GetTransport(peerID Did) (Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[peerID]
	return t, ok
}

func (m *InMemoryTransportManager) Register(peerID Did, t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[peerID] = t
}

func (m *InMemoryTransportManager) RemoveTransport(peerID Did) {
	m.mu.Lock()
	t, ok := m.active[peerID]
	delete(m.active, peerID)
	m.mu.Unlock()
	if ok {
		t.Close()
	}
}

func (m *InMemoryTransportManager) PushPending(uuid string, t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[uuid] = t
}

func (m *InMemoryTransportManager) GetPending(uuid string) (Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.pending[uuid]
	return t, ok
}

func (m *InMemoryTransportManager) PopPending(uuid string) (Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.pending[uuid]
	if ok {
		delete(m.pending, uuid)
	}
	return t, ok
}

func (m *InMemoryTransportManager) SendPayload(peerID Did, payload []byte) error {
	t, ok := m.GetTransport(peerID)
	if !ok {
		return newError(ErrUnknownPeer, "no transport to %s", peerID)
	}
	return t.Send(payload)
}

func (m *InMemoryTransportManager) IncomingMessages() <-chan []byte {
	return m.inbound
}

// deliver is called by the peer side of an in-memory transport pair to
// hand a payload directly to this manager's inbound feed, bypassing any
// network encoding.
func (m *InMemoryTransportManager) deliver(payload []byte) {
	m.inbound <- payload
}

// inMemoryTransport pairs with another inMemoryTransport to simulate a
// direct data channel without a real network hop; used for tests that
// exercise the ring/handler/stabilizer layers end to end.
type inMemoryTransport struct {
	mu        sync.Mutex
	owner     *InMemoryTransportManager
	peer      *InMemoryTransportManager
	connected bool
}

func newInMemoryTransport(owner *InMemoryTransportManager) *inMemoryTransport {
	return &inMemoryTransport{owner: owner}
}

// Pair connects two in-memory transports belonging to different managers,
// standing in for a completed data-channel handshake.
func Pair(a, b Transport) error {
	ta, ok := a.(*inMemoryTransport)
	if !ok {
		return errors.New("Pair: a is not an in-memory transport")
	}
	tb, ok := b.(*inMemoryTransport)
	if !ok {
		return errors.New("Pair: b is not an in-memory transport")
	}
	ta.mu.Lock()
	ta.peer = tb.owner
	ta.connected = true
	ta.mu.Unlock()

	tb.mu.Lock()
	tb.peer = ta.owner
	tb.connected = true
	tb.mu.Unlock()
	return nil
}

func (t *inMemoryTransport) GetHandshakeInfo(sm SessionManager, kind HandshakeKind) ([]byte, error) {
	w := &binWriter{}
	w.WriteUint8(uint8(kind))
	w.WriteDid(sm.Did())
	return w.Bytes(), nil
}

func (t *inMemoryTransport) RegisterRemoteInfo(info []byte) (Did, error) {
	r := newBinReader(info)
	if _, err := r.ReadUint8(); err != nil {
		return ZeroDid, newError(ErrInvalidPayload, "decode handshake kind: %v", err)
	}
	did, err := r.ReadDid()
	if err != nil {
		return ZeroDid, err
	}

	t.owner.mu.Lock()
	network := t.owner.network
	t.owner.mu.Unlock()
	if network != nil {
		if peer, ok := network.lookup(did); ok {
			t.mu.Lock()
			t.peer = peer
			t.connected = true
			t.mu.Unlock()
		}
	}
	return did, nil
}

func (t *inMemoryTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *inMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.peer = nil
	return nil
}

func (t *inMemoryTransport) Send(payload []byte) error {
	t.mu.Lock()
	peer := t.peer
	connected := t.connected
	t.mu.Unlock()
	if !connected || peer == nil {
		return newError(ErrTransportFailure, "transport not connected")
	}
	peer.deliver(payload)
	return nil
}
