package chord

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	context "golang.org/x/net/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// rawMessage is the only message type ever carried over the Exchange
// stream: an already-encoded Payload. It is not a protobuf message;
// rawCodec below passes its bytes straight through, which is what lets
// this transport carry the core's own binary envelope without a
// generated .pb.go file.
type rawMessage struct{ Data []byte }

func (m *rawMessage) Reset()         { m.Data = nil }
func (m *rawMessage) String() string { return string(m.Data) }
func (m *rawMessage) ProtoMessage()  {}

// rawCodec overrides grpc-go's default "proto" codec name with a
// passthrough implementation carrying opaque bytes instead of generated
// protobuf types, since the payload encoding (payload.go) is already a
// complete, signed, length-prefixed format.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected type %T", v)
	}
	return m.Data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected type %T", v)
	}
	m.Data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// transportServer is an intentionally empty interface used only so
// grpc.ServiceDesc.HandlerType has something to type-assert against; any
// concrete handler (here, *GRPCTransportManager) trivially satisfies it.
type transportServer interface{}

func exchangeStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	mgr := srv.(*GRPCTransportManager)
	for {
		msg := new(rawMessage)
		if err := stream.RecvMsg(msg); err != nil {
			return err
		}
		mgr.inbound <- msg.Data
	}
}

var exchangeStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	Handler:       exchangeStreamHandler,
	ServerStreams: true,
	ClientStreams: true,
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "chord.Transport",
	HandlerType: (*transportServer)(nil),
	Streams:     []grpc.StreamDesc{exchangeStreamDesc},
	Metadata:    "net_grpc.go",
}

// rpcOutConn is a pooled outbound connection plus the single long-lived
// stream carrying payloads to that peer.
type rpcOutConn struct {
	addr   string
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	used   time.Time
}

// GRPCTransportManager is the gRPC-backed TransportManager: it owns the
// listening server, a pool of outbound connections, and the
// active/pending transport tables. It is wired into cmd/ringsd as the
// production TransportManager, with InMemoryTransportManager
// (transport.go) reserved for tests.
type GRPCTransportManager struct {
	server   *grpc.Server
	selfAddr string

	mu     sync.RWMutex
	active map[Did]*grpcTransport

	pendingMu sync.Mutex
	pending   map[string]pendingTransport

	poolLock sync.Mutex
	pool     map[string][]*rpcOutConn

	inbound  chan []byte
	shutdown int32
	timeout  time.Duration
	maxIdle  time.Duration
}

// NewGRPCTransportManager registers the Exchange service on gserver and
// starts the idle-connection reaper.
func NewGRPCTransportManager(gserver *grpc.Server, selfAddr string, rpcTimeout, connMaxIdle time.Duration) *GRPCTransportManager {
	m := &GRPCTransportManager{
		server:   gserver,
		selfAddr: selfAddr,
		active:   make(map[Did]*grpcTransport),
		pending:  make(map[string]pendingTransport),
		pool:     make(map[string][]*rpcOutConn),
		inbound:  make(chan []byte, 256),
		timeout:  rpcTimeout,
		maxIdle:  connMaxIdle,
	}
	gserver.RegisterService(&transportServiceDesc, m)
	go m.reapOld()
	return m
}

// pendingTransport is a parked connect-flow transport plus when it was
// parked, so the reaper can expire handshakes whose answer never arrives.
type pendingTransport struct {
	t     *grpcTransport
	since time.Time
}

// reapOld closes idle outbound connections and expires stale pending
// transports on a fixed cadence.
func (m *GRPCTransportManager) reapOld() {
	for {
		if atomic.LoadInt32(&m.shutdown) == 1 {
			return
		}
		time.Sleep(30 * time.Second)
		m.reapOnce()
		m.reapPending()
	}
}

func (m *GRPCTransportManager) reapPending() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for uuid, pt := range m.pending {
		if time.Since(pt.since) > m.maxIdle {
			pt.t.Close()
			delete(m.pending, uuid)
		}
	}
}

func (m *GRPCTransportManager) reapOnce() {
	m.poolLock.Lock()
	defer m.poolLock.Unlock()
	for addr, conns := range m.pool {
		max := len(conns)
		for i := 0; i < max; i++ {
			if time.Since(conns[i].used) > m.maxIdle {
				conns[i].conn.Close()
				conns[i], conns[max-1] = conns[max-1], nil
				max--
				i--
			}
		}
		m.pool[addr] = conns[:max]
	}
}

// getConn returns a pooled or freshly dialed connection+stream to addr.
func (m *GRPCTransportManager) getConn(addr string) (*rpcOutConn, error) {
	m.poolLock.Lock()
	if atomic.LoadInt32(&m.shutdown) == 1 {
		m.poolLock.Unlock()
		return nil, fmt.Errorf("grpc transport manager is shut down")
	}
	list, ok := m.pool[addr]
	var out *rpcOutConn
	if ok && len(list) > 0 {
		out = list[len(list)-1]
		m.pool[addr] = list[:len(list)-1]
	}
	m.poolLock.Unlock()
	if out != nil {
		return out, nil
	}

	conn, err := grpc.Dial(addr, grpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	stream, err := conn.NewStream(context.Background(), &exchangeStreamDesc, "/chord.Transport/Exchange")
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &rpcOutConn{addr: addr, conn: conn, stream: stream, used: time.Now()}, nil
}

func (m *GRPCTransportManager) returnConn(o *rpcOutConn) {
	o.used = time.Now()
	m.poolLock.Lock()
	defer m.poolLock.Unlock()
	if atomic.LoadInt32(&m.shutdown) == 1 {
		o.conn.Close()
		return
	}
	m.pool[o.addr] = append(m.pool[o.addr], o)
}

func (m *GRPCTransportManager) closeConn(o *rpcOutConn) {
	if o == nil {
		return
	}
	o.conn.Close()
}

func (m *GRPCTransportManager) NewTransport() (Transport, error) {
	return &grpcTransport{manager: m}, nil
}

func (m *GRPCTransportManager) GetTransport(peerID Did) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.active[peerID]
	return t, ok
}

func (m *GRPCTransportManager) Register(peerID Did, t Transport) {
	gt, ok := t.(*grpcTransport)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[peerID] = gt
}

func (m *GRPCTransportManager) RemoveTransport(peerID Did) {
	m.mu.Lock()
	t, ok := m.active[peerID]
	delete(m.active, peerID)
	m.mu.Unlock()
	if ok {
		t.Close()
	}
}

func (m *GRPCTransportManager) PushPending(uuid string, t Transport) {
	gt, ok := t.(*grpcTransport)
	if !ok {
		return
	}
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending[uuid] = pendingTransport{t: gt, since: time.Now()}
}

func (m *GRPCTransportManager) GetPending(uuid string) (Transport, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	pt, ok := m.pending[uuid]
	if !ok {
		return nil, false
	}
	return pt.t, true
}

func (m *GRPCTransportManager) PopPending(uuid string) (Transport, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	pt, ok := m.pending[uuid]
	if !ok {
		return nil, false
	}
	delete(m.pending, uuid)
	return pt.t, true
}

func (m *GRPCTransportManager) SendPayload(peerID Did, payload []byte) error {
	t, ok := m.GetTransport(peerID)
	if !ok {
		return newError(ErrUnknownPeer, "no transport to %s", peerID)
	}
	return t.Send(payload)
}

func (m *GRPCTransportManager) IncomingMessages() <-chan []byte {
	return m.inbound
}

// Shutdown stops accepting new outbound connections and drains the pool.
func (m *GRPCTransportManager) Shutdown() {
	atomic.StoreInt32(&m.shutdown, 1)
	m.server.GracefulStop()
	m.poolLock.Lock()
	for _, conns := range m.pool {
		for _, out := range conns {
			out.conn.Close()
		}
	}
	m.pool = nil
	m.poolLock.Unlock()
}

// grpcTransport is one pairwise connection: GetHandshakeInfo and
// RegisterRemoteInfo exchange a dial address and Did in lieu of a full
// ICE negotiation; once registered, Send reuses the manager's connection
// pool.
type grpcTransport struct {
	mu         sync.Mutex
	manager    *GRPCTransportManager
	remoteAddr string
	remoteDid  Did
	out        *rpcOutConn
	connected  bool
}

func (t *grpcTransport) GetHandshakeInfo(sm SessionManager, kind HandshakeKind) ([]byte, error) {
	w := &binWriter{}
	w.WriteUint8(uint8(kind))
	w.WriteDid(sm.Did())
	w.WriteString(t.manager.selfAddr)
	return w.Bytes(), nil
}

func (t *grpcTransport) RegisterRemoteInfo(info []byte) (Did, error) {
	r := newBinReader(info)
	if _, err := r.ReadUint8(); err != nil {
		return ZeroDid, newError(ErrInvalidPayload, "decode handshake kind: %v", err)
	}
	did, err := r.ReadDid()
	if err != nil {
		return ZeroDid, newError(ErrInvalidPayload, "decode handshake did: %v", err)
	}
	addr, err := r.ReadString()
	if err != nil {
		return ZeroDid, newError(ErrInvalidPayload, "decode handshake addr: %v", err)
	}

	out, err := t.manager.getConn(addr)
	if err != nil {
		return ZeroDid, newError(ErrTransportFailure, "dial %s: %v", addr, err)
	}

	t.mu.Lock()
	t.remoteAddr = addr
	t.remoteDid = did
	t.out = out
	t.connected = true
	t.mu.Unlock()
	return did, nil
}

func (t *grpcTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *grpcTransport) Close() error {
	t.mu.Lock()
	out := t.out
	t.out = nil
	t.connected = false
	t.mu.Unlock()
	t.manager.closeConn(out)
	return nil
}

func (t *grpcTransport) Send(payload []byte) error {
	t.mu.Lock()
	out := t.out
	timeout := t.manager.timeout
	t.mu.Unlock()
	if out == nil {
		return newError(ErrTransportFailure, "transport not connected")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- out.stream.SendMsg(&rawMessage{Data: payload})
	}()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case err := <-errCh:
		if err != nil {
			return newError(ErrTransportFailure, "send: %v", err)
		}
		t.manager.returnConn(out)
		return nil
	case <-time.After(timeout):
		return newError(ErrTimeout, "send to %s timed out", t.remoteAddr)
	}
}
