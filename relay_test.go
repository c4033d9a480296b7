package chord

import "testing"

func TestSendRelayRecordsPath(t *testing.T) {
	a, b, c := didFromUint(1), didFromUint(2), didFromUint(3)

	h := newSendRelay(a, b, c)
	if h.Method != RelaySend || len(h.Path) != 1 || h.Path[0] != a {
		t.Fatalf("fresh relay = %+v", h)
	}
	if h.NextHop == nil || *h.NextHop != b || h.Destination != c {
		t.Fatalf("fresh relay routing = %+v", h)
	}

	// b forwards toward c.
	h.relay(b, &c)
	if len(h.Path) != 2 || h.Path[1] != b {
		t.Fatalf("path after forward = %v", h.Path)
	}
	if *h.NextHop != c {
		t.Fatalf("next hop after forward = %s", *h.NextHop)
	}
	// The origin is never rewritten.
	if h.Path[0] != a {
		t.Fatalf("path[0] rewritten to %s", h.Path[0])
	}
}

func TestReportReversesPath(t *testing.T) {
	ids := []Did{didFromUint(1), didFromUint(2), didFromUint(3), didFromUint(4)}
	send := RelayHeader{
		Method:      RelaySend,
		Path:        ids[:3],
		Destination: ids[3],
	}

	// The responder (ids[3]) appends itself, then the report walks the
	// path tail-first: 3, 2, 1, terminating at the origin.
	r := send.toReport(ids[3])
	if r.Method != RelayReport || len(r.Path) != 4 {
		t.Fatalf("report header = %+v", r)
	}
	if r.Destination != ids[0] {
		t.Fatalf("report destination = %s, want the origin", r.Destination)
	}

	wantHops := []Did{ids[2], ids[1], ids[0]}
	var prevCursor uint32
	for i, want := range wantHops {
		if r.NextHop == nil || *r.NextHop != want {
			t.Fatalf("hop %d next = %v, want %s", i, r.NextHop, want)
		}
		r.relay(want, nil)
		if i > 0 && r.PathEndCursor <= prevCursor {
			t.Fatalf("cursor not monotonically increasing: %d then %d", prevCursor, r.PathEndCursor)
		}
		prevCursor = r.PathEndCursor
	}
	if r.NextHop != nil {
		t.Fatalf("report did not terminate, next = %s", *r.NextHop)
	}
}

func TestReportSingleHop(t *testing.T) {
	a, b := didFromUint(1), didFromUint(2)
	send := RelayHeader{Method: RelaySend, Path: []Did{a}, Destination: b}

	r := send.toReport(b)
	if r.NextHop == nil || *r.NextHop != a {
		t.Fatalf("single-hop report next = %v, want the origin", r.NextHop)
	}
	r.relay(a, nil)
	if r.NextHop != nil {
		t.Fatal("single-hop report must terminate at the origin")
	}
}

func TestResetDestination(t *testing.T) {
	a, b, c := didFromUint(1), didFromUint(2), didFromUint(3)
	h := newSendRelay(a, b, b)
	h.resetDestination(c)
	if h.Destination != c {
		t.Fatalf("destination = %s, want %s", h.Destination, c)
	}
}

func TestRelayCloneIsIndependent(t *testing.T) {
	a, b := didFromUint(1), didFromUint(2)
	h := newSendRelay(a, b, b)
	c := h.clone()

	c.relay(b, nil)
	if len(h.Path) != 1 {
		t.Fatalf("mutating the clone touched the original path: %v", h.Path)
	}
	*c.NextHop = a
	if *h.NextHop != b {
		t.Fatal("clone shares next hop storage with the original")
	}
}
