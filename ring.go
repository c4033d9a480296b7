package chord

import "sync"

// RingActionKind tags the variants of RingAction.
type RingActionKind int

const (
	// ActionNone means the operation had nothing further to do.
	ActionNone RingActionKind = iota
	// ActionSome carries an immediate answer, e.g. a resolved successor.
	ActionSome
	// ActionRemote means the caller must relay an operation to NextHop.
	ActionRemote
	// ActionMultiple bundles several actions that must all be carried out.
	ActionMultiple
)

// RemoteOpKind tags the operation carried by an ActionRemote RingAction.
type RemoteOpKind int

const (
	// OpFindSuccessor asks NextHop to resolve Target and report back,
	// updating the caller's successor list.
	OpFindSuccessor RemoteOpKind = iota
	// OpFindSuccessorForFix is the same RPC, but the response should update
	// finger[fix_finger_index] instead of the successor list.
	OpFindSuccessorForFix
	// OpSyncVNodeWithSuccessor carries vnode values that now belong to
	// NextHop and must be migrated there.
	OpSyncVNodeWithSuccessor
)

// RemoteOp is the payload of an ActionRemote RingAction.
type RemoteOp struct {
	Kind   RemoteOpKind
	Target Did            // valid for OpFindSuccessor / OpFindSuccessorForFix
	Index  int            // finger index being fixed, valid for OpFindSuccessorForFix
	Values map[Did][]byte // valid for OpSyncVNodeWithSuccessor
}

// RingAction is the algebraic result returned by ring-state operations:
// nothing to do, an immediate answer, or an operation to relay onward.
type RingAction struct {
	Kind     RingActionKind
	Some     Did
	NextHop  Did
	Op       RemoteOp
	Multiple []RingAction
}

var noAction = RingAction{Kind: ActionNone}

func someAction(id Did) RingAction {
	return RingAction{Kind: ActionSome, Some: id}
}

func remoteAction(next Did, op RemoteOp) RingAction {
	return RingAction{Kind: ActionRemote, NextHop: next, Op: op}
}

// Ring is the per-node Chord state: predecessor, successor list, finger
// table, and local vnode store. Every exported method is atomic with
// respect to every other: they all take the same exclusive lock, mutate,
// and release before returning. Handlers must never
// hold this lock across a network suspension point.
type Ring struct {
	mu sync.Mutex

	did Did

	hasPredecessor bool
	predecessor    Did

	successor *successorList
	fingers   *fingerTable
	store     *vnodeStore
	persist   *VNodeLog
}

// NewRing creates ring state for a node identified by self, tracking the
// default number of successors.
func NewRing(self Did) *Ring {
	return NewRingSized(self, DefaultSuccessorListSize)
}

// NewRingSized creates ring state with an explicit successor list cap.
// A non-positive cap falls back to DefaultSuccessorListSize.
func NewRingSized(self Did, successorListSize int) *Ring {
	return &Ring{
		did:       self,
		successor: newSuccessorList(self, successorListSize),
		fingers:   newFingerTable(self),
		store:     newVnodeStore(),
	}
}

// Did returns the node's own identifier.
func (r *Ring) Did() Did {
	return r.did
}

// Predecessor returns the current predecessor, if any.
func (r *Ring) Predecessor() (Did, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.predecessor, r.hasPredecessor
}

// SuccessorSnapshot returns (successor.min(), successor.list()) taken
// under one critical section, so the stabilizer sees a consistent pair.
func (r *Ring) SuccessorSnapshot() (Did, []Did) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successor.min(), r.successor.list()
}

// SuccessorList returns a snapshot of the successor list alone.
func (r *Ring) SuccessorList() []Did {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successor.list()
}

// FingerAt returns finger[i] and whether it is populated.
func (r *Ring) FingerAt(i int) (Did, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fingers.at(i)
}

// FixFingerIndex returns the current fix-finger cursor.
func (r *Ring) FixFingerIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fingers.cursor
}

// SetFinger sets finger[i] directly; used by FindSuccessorReport handling
// when the report is answering a fix-fingers probe.
func (r *Ring) SetFinger(i int, id Did) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingers.set(i, id)
}

// Join folds newId into the successor list and finger table. If the list
// was empty, newId becomes the immediate successor and ActionNone is
// returned (nothing left to relay). Otherwise the caller must also ask
// closest_preceding_node(newId) to find newId's true successor.
//
// Join is idempotent: re-joining an id already present as successor is a
// no-op relay, not an error.
func (r *Ring) Join(newId Did) RingAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	if newId == r.did {
		return noAction
	}
	r.fingers.join(newId)
	wasEmpty := r.successor.isNone()
	r.successor.update(newId)
	if wasEmpty {
		return noAction
	}
	next := r.fingers.closestPrecedingNode(newId)
	return remoteAction(next, RemoteOp{Kind: OpFindSuccessor, Target: newId})
}

// FindSuccessor resolves target to an immediate answer if it falls within
// (self, successor.max()], or if no successor is known yet (in which case
// self is the only node and is returned). Otherwise it hands back the
// closest preceding node to relay to.
func (r *Ring) FindSuccessor(target Did) RingAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.successor.isNone() || between(r.did, r.successor.max(), target) {
		return someAction(r.successor.min())
	}
	next := r.fingers.closestPrecedingNode(target)
	return remoteAction(next, RemoteOp{Kind: OpFindSuccessor, Target: target})
}

// Notify records candidate as predecessor if none is known yet, or if
// candidate lies strictly between the current predecessor and self.
// Notify never fails; applying it twice with the same candidate is a
// no-op the second time.
func (r *Ring) Notify(candidate Did) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasPredecessor || betweenOpen(r.predecessor, r.did, candidate) {
		r.predecessor = candidate
		r.hasPredecessor = true
	}
}

// FixFingers advances the fix-finger cursor and resolves the probe
// self + 2^index the same way find_successor does, except the eventual
// response is destined for finger[index] rather than the successor list.
func (r *Ring) FixFingers() RingAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, probe := r.fingers.advance()
	if r.successor.isNone() {
		return noAction
	}
	if between(r.did, r.successor.max(), probe) {
		r.fingers.set(index, r.successor.min())
		return noAction
	}
	next := r.fingers.closestPrecedingNode(probe)
	return remoteAction(next, RemoteOp{Kind: OpFindSuccessorForFix, Target: probe, Index: index})
}

// SyncWithSuccessor computes which locally stored vnode values now belong
// to newSuccessor, everything NOT in (self, newSuccessor], and returns
// an action to migrate them there.
func (r *Ring) SyncWithSuccessor(newSuccessor Did) RingAction {
	r.mu.Lock()
	defer r.mu.Unlock()

	values := r.store.partitionNotIn(r.did, newSuccessor, between)
	if len(values) == 0 {
		return noAction
	}
	return remoteAction(newSuccessor, RemoteOp{Kind: OpSyncVNodeWithSuccessor, Values: values})
}

// UpdateSuccessor folds a resolved successor into the list and, if that
// changed the immediate successor, returns the vnode sync action that
// should follow.
func (r *Ring) UpdateSuccessor(id Did) RingAction {
	r.mu.Lock()
	changed := !r.successor.contains(id) && id != r.did
	prevMin := r.successor.min()
	r.successor.update(id)
	r.fingers.join(id)
	newMin := r.successor.min()
	r.mu.Unlock()

	if !changed || prevMin == newMin {
		return noAction
	}
	return r.SyncWithSuccessor(newMin)
}

// Remove drops id from the successor list, the finger table, and the
// predecessor slot if it matches.
func (r *Ring) Remove(id Did) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successor.remove(id)
	r.fingers.remove(id)
	if r.hasPredecessor && r.predecessor == id {
		r.hasPredecessor = false
		r.predecessor = ZeroDid
	}
}

// Leave returns the peers that should hear about a graceful departure:
// every known successor, each of which gets a LeaveDHT.
func (r *Ring) Leave() []Did {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successor.list()
}

// Store exposes the local vnode store. Callers must not retain pointers
// across a suspension point; every access re-acquires the ring lock.
func (r *Ring) Store() *vnodeStoreHandle {
	return &vnodeStoreHandle{ring: r}
}

// AttachVNodeLog replays the log into the store and keeps it attached, so
// every subsequent Put and Merge is also appended to disk.
func (r *Ring) AttachVNodeLog(l *VNodeLog) error {
	values, err := l.ReadAll()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.merge(values)
	r.persist = l
	return nil
}
