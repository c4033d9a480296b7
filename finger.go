package chord

// fingerTable is a length-idBits sparse vector; finger[i] is the known
// successor of self + 2^i. Unknown entries are the zero Did.
type fingerTable struct {
	self    Did
	entries [idBits]Did
	cursor  int // fix_finger_index, rotates through [0, idBits)
}

func newFingerTable(self Did) *fingerTable {
	return &fingerTable{self: self}
}

// at returns the finger at index i, and whether it has been populated.
func (f *fingerTable) at(i int) (Did, bool) {
	e := f.entries[i]
	return e, !e.IsZero()
}

// set assigns finger[i].
func (f *fingerTable) set(i int, id Did) {
	f.entries[i] = id
}

// join folds a newly learned node into the table: for each index whose
// probe self + 2^i does not overshoot id, the entry is filled if empty or
// if id sits closer clockwise of the probe than the current entry. Stale
// entries are repaired later by the fix-fingers cycle.
func (f *fingerTable) join(id Did) {
	if id == f.self {
		return
	}
	d := distance(f.self, id)
	for i := 0; i < idBits; i++ {
		probe := powerOffset(f.self, i)
		if d.Cmp(distance(f.self, probe)) < 0 {
			// id precedes this probe, and every higher one.
			break
		}
		cur := f.entries[i]
		if cur.IsZero() || distance(probe, id).Cmp(distance(probe, cur)) < 0 {
			f.entries[i] = id
		}
	}
}

// contains reports whether any finger entry equals id.
func (f *fingerTable) contains(id Did) bool {
	for _, e := range f.entries {
		if e == id {
			return true
		}
	}
	return false
}

// remove clears every finger entry equal to id.
func (f *fingerTable) remove(id Did) {
	for i, e := range f.entries {
		if e == id {
			f.entries[i] = ZeroDid
		}
	}
}

// advance rotates the fix-finger cursor and returns the probe identifier
// self + 2^index for the new cursor position.
func (f *fingerTable) advance() (index int, probe Did) {
	f.cursor = (f.cursor + 1) % idBits
	return f.cursor, powerOffset(f.self, f.cursor)
}

// closestPrecedingNode scans fingers from idBits-1 down to 0 and returns
// the first finger whose id lies in the open interval (self, target); if
// none qualifies, it returns self. This is the sole routing primitive
// used by find_successor.
func (f *fingerTable) closestPrecedingNode(target Did) Did {
	for i := idBits - 1; i >= 0; i-- {
		e, ok := f.at(i)
		if !ok {
			continue
		}
		if betweenOpen(f.self, target, e) {
			return e
		}
	}
	return f.self
}
