package chord

// vnodeStore is the mapping from vnode id to opaque value bytes that a
// node is currently responsible for. It is embedded in Ring and always
// accessed under Ring.mu.
type vnodeStore struct {
	values map[Did][]byte
}

func newVnodeStore() *vnodeStore {
	return &vnodeStore{values: make(map[Did][]byte)}
}

func (s *vnodeStore) get(id Did) ([]byte, bool) {
	v, ok := s.values[id]
	return v, ok
}

func (s *vnodeStore) put(id Did, value []byte) {
	s.values[id] = value
}

// merge folds incoming values into the store. The store owns the bytes
// once merged.
func (s *vnodeStore) merge(values map[Did][]byte) {
	for id, v := range values {
		s.values[id] = v
	}
}

// partitionNotIn extracts (removing from the store) every entry whose id
// is NOT in the half-open interval (a, b] according to inInterval: the
// subset that now belongs to the node at b.
func (s *vnodeStore) partitionNotIn(a, b Did, inInterval func(a, b, x Did) bool) map[Did][]byte {
	out := make(map[Did][]byte)
	for id, v := range s.values {
		if !inInterval(a, b, id) {
			out[id] = v
			delete(s.values, id)
		}
	}
	return out
}

// vnodeStoreHandle is the external, lock-safe view onto a Ring's vnode
// store. Every method takes the ring lock for the duration of the call
// and releases it before returning, so callers never end up holding the
// lock across a suspension point.
type vnodeStoreHandle struct {
	ring *Ring
}

// Get returns the value stored locally for id, if any.
func (h *vnodeStoreHandle) Get(id Did) ([]byte, bool) {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	return h.ring.store.get(id)
}

// Put stores value for id locally, appending to the attached log if one
// is present. The disk write happens under the ring lock; it is a local
// file append, not a network suspension.
func (h *vnodeStoreHandle) Put(id Did, value []byte) {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	h.ring.store.put(id, value)
	if h.ring.persist != nil {
		_ = h.ring.persist.Append(id, value)
	}
}

// Merge folds a batch of incoming values into the store, e.g. from a
// SyncVNodeWithSuccessor message.
func (h *vnodeStoreHandle) Merge(values map[Did][]byte) {
	h.ring.mu.Lock()
	defer h.ring.mu.Unlock()
	h.ring.store.merge(values)
	if h.ring.persist != nil {
		for id, v := range values {
			_ = h.ring.persist.Append(id, v)
		}
	}
}
