package chord

import (
	"context"
	"testing"
	"time"
)

func TestStabilizerSkipsNotifyWhenAlone(t *testing.T) {
	network := NewInMemoryNetwork()
	p := newTestPeer(t, network)

	// A lone node is its own successor.min(); a tick must not emit
	// anything or fail.
	p.stab.tick()
	select {
	case <-p.tm.IncomingMessages():
		t.Fatal("lone node sent stabilization traffic")
	default:
	}
}

func TestStabilizerTickFixesFinger(t *testing.T) {
	network := NewInMemoryNetwork()
	peers := sortedTestPeers(t, network, 2)
	k1, k2 := peers[0], peers[1]

	joinPair(t, k1, k2)
	drain(t, k1, k2)

	// Force the cursor so the next tick probes k1 + 2^0, which lies inside
	// (k1, k2] and resolves without leaving the node.
	k1.ring.mu.Lock()
	k1.ring.fingers.cursor = idBits - 1
	k1.ring.fingers.set(0, ZeroDid)
	k1.ring.mu.Unlock()

	k1.stab.tick()
	drain(t, k1, k2)

	if got, ok := k1.ring.FingerAt(0); !ok || got != k2.did() {
		t.Fatalf("finger[0] after tick = %s ok=%v, want k2", got, ok)
	}
}

func TestStabilizerRemoteFixUpdatesFinger(t *testing.T) {
	_, k1, k2, k3 := ringTriple(t)

	joinPair(t, k1, k2)
	drain(t, k1, k2)
	joinPair(t, k2, k3)
	drain(t, k1, k2, k3)
	stabilize(t, k1, k2, k3)

	// After a full cursor sweep every populated finger of k1 points at a
	// real member of the ring.
	for i := 0; i < idBits; i++ {
		got, ok := k1.ring.FingerAt(i)
		if !ok {
			continue
		}
		if got != k2.did() && got != k3.did() {
			t.Fatalf("finger[%d] = %s, not a ring member", i, got)
		}
	}
}

func TestStabilizerRunStopsOnCancel(t *testing.T) {
	network := NewInMemoryNetwork()
	p := newTestPeer(t, network)
	stab := NewStabilizer(p.ring, p.handler, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stab.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stabilizer did not exit after cancellation")
	}
}
