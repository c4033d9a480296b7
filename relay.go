package chord

// RelayMethod distinguishes an outbound request from its reverse-path
// reply.
type RelayMethod uint8

const (
	// RelaySend is an outbound request following next_hop toward destination.
	RelaySend RelayMethod = iota
	// RelayReport is a reverse-path reply retracing the recorded SEND path.
	RelayReport
)

func (m RelayMethod) String() string {
	if m == RelayReport {
		return "REPORT"
	}
	return "SEND"
}

// RelayHeader is the routing header carried by every payload. path[0] is
// always the original sender and is never rewritten by
// intermediate hops. For SEND, destination is constant unless explicitly
// reset by an intermediate hop that found a closer route. For REPORT, the
// original SEND path is retained and path_end_cursor walks it backwards.
type RelayHeader struct {
	Method        RelayMethod
	Path          []Did
	PathEndCursor uint32
	NextHop       *Did
	Destination   Did
}

// newSendRelay builds the relay header for a freshly authored SEND
// payload: path = [self], next_hop = next, destination = target.
func newSendRelay(self, next, destination Did) RelayHeader {
	n := next
	return RelayHeader{
		Method:      RelaySend,
		Path:        []Did{self},
		NextHop:     &n,
		Destination: destination,
	}
}

// clone returns a deep copy safe to mutate independently of the original.
func (h RelayHeader) clone() RelayHeader {
	path := make([]Did, len(h.Path))
	copy(path, h.Path)
	var next *Did
	if h.NextHop != nil {
		n := *h.NextHop
		next = &n
	}
	return RelayHeader{
		Method:        h.Method,
		Path:          path,
		PathEndCursor: h.PathEndCursor,
		NextHop:       next,
		Destination:   h.Destination,
	}
}

// relay advances the header by one hop, in place.
//
// For SEND, it appends selfID to the recorded path (selfID is the node
// that is about to forward the message onward) and sets next_hop to
// nextOverride.
//
// For REPORT, it ignores nextOverride, advances path_end_cursor by one,
// and recomputes next_hop as path[len(path)-1-cursor-1]; once that index
// runs negative the REPORT has reached the original sender and next_hop
// becomes nil.
func (h *RelayHeader) relay(selfID Did, nextOverride *Did) {
	switch h.Method {
	case RelaySend:
		h.Path = append(h.Path, selfID)
		h.NextHop = nextOverride
	case RelayReport:
		h.PathEndCursor++
		idx := len(h.Path) - 1 - int(h.PathEndCursor) - 1
		if idx >= 0 {
			id := h.Path[idx]
			h.NextHop = &id
		} else {
			h.NextHop = nil
		}
	}
}

// resetDestination rewrites destination mid-flight. Only valid while
// forwarding a SEND, when a hop discovers a closer route than the one
// the origin picked.
func (h *RelayHeader) resetDestination(next Did) {
	h.Destination = next
}

// toReport converts a SEND relay that has just reached its destination
// into the REPORT relay that will retrace the recorded path back to the
// origin. The responder appends itself to the path first, so a SEND that
// traveled a -> b -> c yields the report path [a, b, c] and the report
// visits b, then terminates at a.
func (h RelayHeader) toReport(selfID Did) RelayHeader {
	r := h.clone()
	if len(r.Path) == 0 || r.Path[len(r.Path)-1] != selfID {
		r.Path = append(r.Path, selfID)
	}
	r.Method = RelayReport
	r.PathEndCursor = 0
	idx := len(r.Path) - 1 - int(r.PathEndCursor) - 1
	if idx >= 0 {
		id := r.Path[idx]
		r.NextHop = &id
	} else {
		r.NextHop = nil
	}
	if len(r.Path) > 0 {
		r.Destination = r.Path[0]
	}
	return r
}
