package chord

import (
	"testing"
)

func testSessionManager(t *testing.T) SessionManager {
	t.Helper()
	sm, err := GenerateSessionManager()
	if err != nil {
		t.Fatalf("generate session manager: %v", err)
	}
	return sm
}

func TestPayloadRoundTrip(t *testing.T) {
	sm := testSessionManager(t)
	peer := testSessionManager(t)

	relay := newSendRelay(sm.Did(), peer.Did(), peer.Did())
	p, err := newPayload(sm, JoinDHT{ID: sm.Did()}, relay)
	if err != nil {
		t.Fatalf("new payload: %v", err)
	}

	decoded, err := DecodePayload(EncodePayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := decoded.verify(peer); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decoded.Addr != sm.Did() {
		t.Fatalf("sender address = %s, want %s", decoded.Addr, sm.Did())
	}
	msg, ok := decoded.Data.(JoinDHT)
	if !ok || msg.ID != sm.Did() {
		t.Fatalf("decoded data = %#v", decoded.Data)
	}
	if decoded.Relay.Destination != peer.Did() {
		t.Fatalf("decoded destination = %s", decoded.Relay.Destination)
	}
}

func TestPayloadRejectsTampering(t *testing.T) {
	sm := testSessionManager(t)
	peer := testSessionManager(t)

	relay := newSendRelay(sm.Did(), peer.Did(), peer.Did())
	p, err := newPayload(sm, StoreVNode{ID: didFromUint(7), Value: []byte("v")}, relay)
	if err != nil {
		t.Fatalf("new payload: %v", err)
	}

	// Swapping the body invalidates both signatures.
	tampered := *p
	tampered.Data = StoreVNode{ID: didFromUint(7), Value: []byte("x")}
	decoded, err := DecodePayload(EncodePayload(&tampered))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := decoded.verify(peer); err == nil {
		t.Fatal("tampered body verified")
	}

	// Rewriting the relay without re-signing invalidates the hop
	// signature even though the origin signature still holds.
	rerouted, err := DecodePayload(EncodePayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rerouted.Relay.resetDestination(didFromUint(9))
	if err := rerouted.verify(peer); err == nil {
		t.Fatal("rerouted relay verified without a re-sign")
	}
}

func TestForwardedPayloadKeepsOrigin(t *testing.T) {
	origin := testSessionManager(t)
	hop := testSessionManager(t)
	dest := testSessionManager(t)

	relay := newSendRelay(origin.Did(), hop.Did(), dest.Did())
	p, err := newPayload(origin, SearchVNode{ID: didFromUint(3)}, relay)
	if err != nil {
		t.Fatalf("new payload: %v", err)
	}

	// The intermediate hop relays and re-signs; the origin signature
	// survives and the per-hop address flips to the forwarder.
	next := dest.Did()
	p.Relay.relay(hop.Did(), &next)
	if err := p.resign(hop); err != nil {
		t.Fatalf("resign: %v", err)
	}

	decoded, err := DecodePayload(EncodePayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := decoded.verify(dest); err != nil {
		t.Fatalf("verify forwarded payload: %v", err)
	}
	if decoded.Addr != hop.Did() {
		t.Fatalf("forwarded sender = %s, want the hop %s", decoded.Addr, hop.Did())
	}
	originDid, err := decoded.OriginVerification.did()
	if err != nil {
		t.Fatalf("derive origin: %v", err)
	}
	if originDid != origin.Did() {
		t.Fatalf("origin = %s, want %s", originDid, origin.Did())
	}
}

func TestDecodeTruncated(t *testing.T) {
	sm := testSessionManager(t)
	relay := newSendRelay(sm.Did(), sm.Did(), sm.Did())
	p, err := newPayload(sm, JoinDHT{ID: sm.Did()}, relay)
	if err != nil {
		t.Fatalf("new payload: %v", err)
	}
	raw := EncodePayload(p)

	for _, n := range []int{0, 8, len(raw) / 2, len(raw) - 1} {
		if _, err := DecodePayload(raw[:n]); err == nil {
			t.Fatalf("truncated payload of %d bytes decoded", n)
		}
	}
}

func TestReplayCache(t *testing.T) {
	c := NewReplayCache(2)

	a, _ := newTxID()
	b, _ := newTxID()
	d, _ := newTxID()

	if c.CheckAndRemember(a) {
		t.Fatal("fresh tx_id flagged as replay")
	}
	if !c.CheckAndRemember(a) {
		t.Fatal("repeated tx_id not flagged")
	}
	// Filling past capacity forgets the oldest entry.
	c.CheckAndRemember(b)
	c.CheckAndRemember(d)
	if c.CheckAndRemember(a) {
		t.Fatal("evicted tx_id still flagged as replay")
	}
}

func TestSyncVNodeEncodingIsStable(t *testing.T) {
	values := map[Did][]byte{
		didFromUint(3): []byte("c"),
		didFromUint(1): []byte("a"),
		didFromUint(2): []byte("b"),
	}
	m := SyncVNodeWithSuccessor{Values: values}

	first := encodeMessage(m)
	for i := 0; i < 16; i++ {
		if string(encodeMessage(m)) != string(first) {
			t.Fatal("encoding varies across calls; signatures would not survive re-hashing")
		}
	}

	decoded, err := decodeMessage(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(SyncVNodeWithSuccessor)
	if !ok || len(got.Values) != 3 || string(got.Values[didFromUint(2)]) != "b" {
		t.Fatalf("decoded = %#v", decoded)
	}
}

func TestMultiCallRoundTrip(t *testing.T) {
	m := MultiCall{Messages: []Message{
		JoinDHT{ID: didFromUint(1)},
		StoreVNode{ID: didFromUint(2), Value: []byte("v")},
		CustomMessage{Payload: []byte("app")},
	}}

	decoded, err := decodeMessage(encodeMessage(m))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(MultiCall)
	if !ok || len(got.Messages) != 3 {
		t.Fatalf("decoded = %#v", decoded)
	}
	if j, ok := got.Messages[0].(JoinDHT); !ok || j.ID != didFromUint(1) {
		t.Fatalf("inner[0] = %#v", got.Messages[0])
	}
	if c, ok := got.Messages[2].(CustomMessage); !ok || string(c.Payload) != "app" {
		t.Fatalf("inner[2] = %#v", got.Messages[2])
	}
}
