package chord

import "testing"

func TestFindSuccessorAlone(t *testing.T) {
	self := didFromUint(100)
	r := NewRing(self)

	action := r.FindSuccessor(self)
	if action.Kind != ActionSome || action.Some != self {
		t.Fatalf("lone node find_successor(self) = %+v, want Some(self)", action)
	}
	action = r.FindSuccessor(didFromUint(5000))
	if action.Kind != ActionSome || action.Some != self {
		t.Fatalf("lone node must answer itself for any target, got %+v", action)
	}
}

func TestJoinFirstPeer(t *testing.T) {
	r := NewRing(didFromUint(100))
	peer := didFromUint(200)

	if action := r.Join(peer); action.Kind != ActionNone {
		t.Fatalf("first join = %+v, want None", action)
	}
	min, list := r.SuccessorSnapshot()
	if min != peer || len(list) != 1 {
		t.Fatalf("successor after first join = %s %v, want just %s", min, list, peer)
	}

	// Re-joining the same peer must not duplicate anything.
	r.Join(peer)
	if _, list := r.SuccessorSnapshot(); len(list) != 1 {
		t.Fatalf("duplicate join grew the list: %v", list)
	}

	if action := r.Join(r.Did()); action.Kind != ActionNone {
		t.Fatalf("joining self = %+v, want None", action)
	}
}

func TestJoinRelaysWhenOccupied(t *testing.T) {
	r := NewRing(didFromUint(100))
	r.Join(didFromUint(200))

	action := r.Join(didFromUint(400))
	if action.Kind != ActionRemote || action.Op.Kind != OpFindSuccessor {
		t.Fatalf("second join = %+v, want RemoteAction(FindSuccessor)", action)
	}
	if action.Op.Target != didFromUint(400) {
		t.Fatalf("relay target = %s, want the joining id", action.Op.Target)
	}
	// The new id still enters the local successor list.
	if _, list := r.SuccessorSnapshot(); len(list) != 2 {
		t.Fatalf("successor list after second join = %v, want two entries", list)
	}
}

func TestFindSuccessorWithinRange(t *testing.T) {
	r := NewRing(didFromUint(100))
	r.Join(didFromUint(200))
	r.Join(didFromUint(300))

	action := r.FindSuccessor(didFromUint(150))
	if action.Kind != ActionSome || action.Some != didFromUint(200) {
		t.Fatalf("find_successor(150) = %+v, want Some(200)", action)
	}

	// Targets beyond everything known relay through the closest
	// preceding finger.
	action = r.FindSuccessor(didFromUint(5000))
	if action.Kind != ActionRemote {
		t.Fatalf("find_successor(5000) = %+v, want RemoteAction", action)
	}
	if action.NextHop != didFromUint(300) {
		t.Fatalf("next hop = %s, want 300", action.NextHop)
	}
}

func TestNotifyIdempotent(t *testing.T) {
	r := NewRing(didFromUint(100))
	candidate := didFromUint(50)

	r.Notify(candidate)
	pred, ok := r.Predecessor()
	if !ok || pred != candidate {
		t.Fatalf("predecessor = %s ok=%v, want %s", pred, ok, candidate)
	}
	r.Notify(candidate)
	if pred, _ := r.Predecessor(); pred != candidate {
		t.Fatalf("second notify changed predecessor to %s", pred)
	}

	// A closer candidate displaces, a farther one does not.
	r.Notify(didFromUint(80))
	if pred, _ := r.Predecessor(); pred != didFromUint(80) {
		t.Fatalf("closer candidate rejected, predecessor = %s", pred)
	}
	r.Notify(didFromUint(20))
	if pred, _ := r.Predecessor(); pred != didFromUint(80) {
		t.Fatalf("farther candidate accepted, predecessor = %s", pred)
	}
}

func TestFixFingersLocalProbe(t *testing.T) {
	r := NewRing(didFromUint(100))
	r.Join(didFromUint(200))

	// Force the cursor so the next advance probes self + 2^0, which lands
	// inside (self, successor.max()] and resolves locally.
	r.mu.Lock()
	r.fingers.cursor = idBits - 1
	r.mu.Unlock()

	action := r.FixFingers()
	if action.Kind != ActionNone {
		t.Fatalf("local fix = %+v, want None", action)
	}
	if got, ok := r.FingerAt(0); !ok || got != didFromUint(200) {
		t.Fatalf("finger[0] = %s ok=%v, want 200", got, ok)
	}
}

func TestFixFingersRemoteProbe(t *testing.T) {
	r := NewRing(didFromUint(100))
	r.Join(didFromUint(200))

	// Walk the cursor until a probe overshoots the successor; that index
	// must come back as a remote fix instruction.
	for i := 0; i < idBits; i++ {
		action := r.FixFingers()
		if action.Kind == ActionNone {
			continue
		}
		if action.Op.Kind != OpFindSuccessorForFix {
			t.Fatalf("remote fix op = %+v", action.Op)
		}
		if action.Op.Index != r.FixFingerIndex() {
			t.Fatalf("fix index %d does not match cursor %d", action.Op.Index, r.FixFingerIndex())
		}
		if action.NextHop != didFromUint(200) {
			t.Fatalf("fix next hop = %s, want the only known peer", action.NextHop)
		}
		return
	}
	t.Fatal("no probe ever left the local range")
}

func TestSyncWithSuccessorPartitions(t *testing.T) {
	r := NewRing(didFromUint(100))
	store := r.Store()

	// 150 sits in (100, 200]; 500 and 50 belong to the new successor.
	mine := didFromUint(150)
	theirs := didFromUint(500)
	wrapped := didFromUint(50)
	store.Put(mine, []byte("a"))
	store.Put(theirs, []byte("b"))
	store.Put(wrapped, []byte("c"))

	action := r.SyncWithSuccessor(didFromUint(200))
	if action.Kind != ActionRemote || action.Op.Kind != OpSyncVNodeWithSuccessor {
		t.Fatalf("sync = %+v, want RemoteAction(SyncVNodeWithSuccessor)", action)
	}
	if action.NextHop != didFromUint(200) {
		t.Fatalf("sync next hop = %s", action.NextHop)
	}
	if _, ok := action.Op.Values[mine]; ok {
		t.Fatal("value inside (self, successor] must stay local")
	}
	if _, ok := action.Op.Values[theirs]; !ok {
		t.Fatal("value beyond the successor must migrate")
	}
	if _, ok := action.Op.Values[wrapped]; !ok {
		t.Fatal("value wrapping before self must migrate")
	}

	// Migrated entries leave the local store; kept entries remain.
	if _, ok := store.Get(theirs); ok {
		t.Fatal("migrated value still in local store")
	}
	if _, ok := store.Get(mine); !ok {
		t.Fatal("kept value vanished from local store")
	}

	// Nothing left to migrate on a second call.
	if action := r.SyncWithSuccessor(didFromUint(200)); action.Kind != ActionNone {
		t.Fatalf("second sync = %+v, want None", action)
	}
}

func TestRemoveClearsEverywhere(t *testing.T) {
	r := NewRing(didFromUint(100))
	peer := didFromUint(200)
	r.Join(peer)
	r.Notify(peer)

	r.Remove(peer)
	if _, list := r.SuccessorSnapshot(); len(list) != 0 {
		t.Fatalf("successor list after remove = %v", list)
	}
	if _, ok := r.Predecessor(); ok {
		t.Fatal("predecessor survived remove")
	}
	r.mu.Lock()
	contains := r.fingers.contains(peer)
	r.mu.Unlock()
	if contains {
		t.Fatal("finger table survived remove")
	}
}

func TestUpdateSuccessorTriggersSync(t *testing.T) {
	r := NewRing(didFromUint(100))
	r.Store().Put(didFromUint(500), []byte("v"))

	action := r.UpdateSuccessor(didFromUint(200))
	if action.Kind != ActionRemote || action.Op.Kind != OpSyncVNodeWithSuccessor {
		t.Fatalf("first update = %+v, want a sync action", action)
	}
	// Same successor again: nothing changed, nothing to sync.
	if action := r.UpdateSuccessor(didFromUint(200)); action.Kind != ActionNone {
		t.Fatalf("repeat update = %+v, want None", action)
	}
	// Self never becomes a successor.
	if action := r.UpdateSuccessor(r.Did()); action.Kind != ActionNone {
		t.Fatalf("self update = %+v, want None", action)
	}
}
