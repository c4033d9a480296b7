package chord

import "testing"

func TestFingerJoinFillsQualifyingSlots(t *testing.T) {
	self := didFromUint(0)
	f := newFingerTable(self)

	peer := didFromUint(1 << 10)
	f.join(peer)

	// For probes at or below the peer, the peer is the closest known
	// successor and fills the slot; slots whose probe lies beyond it are
	// left empty.
	for i := 0; i <= 10; i++ {
		if got, ok := f.at(i); !ok || got != peer {
			t.Fatalf("finger[%d] = %s ok=%v, want %s", i, got, ok, peer)
		}
	}

	// A closer candidate for the low slots displaces the peer there but
	// not at slots whose probe lies beyond it.
	closer := didFromUint(1 << 4)
	f.join(closer)
	if got, _ := f.at(0); got != closer {
		t.Fatalf("finger[0] = %s, want %s", got, closer)
	}
	if got, _ := f.at(10); got != peer {
		t.Fatalf("finger[10] = %s, want %s", got, peer)
	}
}

func TestClosestPrecedingNode(t *testing.T) {
	self := didFromUint(0)
	f := newFingerTable(self)

	if got := f.closestPrecedingNode(didFromUint(500)); got != self {
		t.Fatalf("empty table must return self, got %s", got)
	}

	f.join(didFromUint(100))
	f.join(didFromUint(300))

	if got := f.closestPrecedingNode(didFromUint(500)); got != didFromUint(300) {
		t.Fatalf("closestPrecedingNode(500) = %s, want 300", got)
	}
	if got := f.closestPrecedingNode(didFromUint(200)); got != didFromUint(100) {
		t.Fatalf("closestPrecedingNode(200) = %s, want 100", got)
	}
	// The target itself never qualifies.
	if got := f.closestPrecedingNode(didFromUint(100)); got != self {
		t.Fatalf("closestPrecedingNode(100) = %s, want self", got)
	}
}

func TestFingerRemoveAndAdvance(t *testing.T) {
	self := didFromUint(0)
	f := newFingerTable(self)
	f.join(didFromUint(100))

	f.remove(didFromUint(100))
	if f.contains(didFromUint(100)) {
		t.Fatal("removed id still present in finger table")
	}

	index, probe := f.advance()
	if index != 1 {
		t.Fatalf("first advance from cursor 0 gives index %d, want 1", index)
	}
	if probe != didFromUint(2) {
		t.Fatalf("probe = %s, want self + 2^1", probe)
	}

	f.cursor = idBits - 1
	index, probe = f.advance()
	if index != 0 || probe != didFromUint(1) {
		t.Fatalf("advance must wrap to index 0, got %d probe %s", index, probe)
	}
}
