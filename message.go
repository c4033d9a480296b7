package chord

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// MessageKind tags the closed set of message variants. Wire tags are
// stable integers: appending new variants is fine, renumbering is not.
type MessageKind uint8

const (
	KindJoinDHT MessageKind = iota
	KindLeaveDHT
	KindConnectNodeSend
	KindConnectNodeReport
	KindAlreadyConnected
	KindFindSuccessorSend
	KindFindSuccessorReport
	KindNotifyPredecessorSend
	KindNotifyPredecessorReport
	KindSyncVNodeWithSuccessor
	KindStoreVNode
	KindSearchVNode
	KindFoundVNode
	KindMultiCall
	KindCustomMessage
)

// ThenKind tells a FindSuccessorSend/Report pair what the eventual answer
// should update: the successor list, or a specific finger slot.
type ThenKind uint8

const (
	ThenUpdateSuccessor ThenKind = iota
	ThenFixFingerTable
)

// Message is the closed variant sum dispatched by MessageHandler.
// Dispatch is a switch over the concrete type, never an open type
// hierarchy.
type Message interface {
	Kind() MessageKind
	encodeBody(w *binWriter)
}

type JoinDHT struct{ ID Did }
type LeaveDHT struct{ ID Did }

type ConnectNodeSend struct {
	Sender        Did
	Target        Did
	TransportUUID string
	HandshakeInfo []byte
}

type ConnectNodeReport struct {
	AnswerID      Did
	TransportUUID string
	HandshakeInfo []byte
}

type AlreadyConnected struct {
	AnswerID      Did
	TransportUUID string
}

type FindSuccessorSend struct {
	Target Did
	Then   ThenKind
	Strict bool
	// FingerIndex is only meaningful when Then == ThenFixFingerTable: it
	// names which finger slot the eventual report should update, since the
	// fix-finger cursor may have moved again by the time the report arrives.
	FingerIndex int
}

type FindSuccessorReport struct {
	ID          Did
	Then        ThenKind
	FingerIndex int
}

type NotifyPredecessorSend struct{ ID Did }
type NotifyPredecessorReport struct{ ID Did }

type SyncVNodeWithSuccessor struct{ Values map[Did][]byte }

type StoreVNode struct {
	ID    Did
	Value []byte
}

type SearchVNode struct{ ID Did }

type FoundVNode struct {
	ID    Did
	Value []byte
}

// MultiCall bundles several inner messages under one origin verification;
// each is dispatched independently and one inner failure does not halt
// the others.
type MultiCall struct{ Messages []Message }

// CustomMessage passes opaque application bytes through to the installed
// callback without ever mutating ring state.
type CustomMessage struct{ Payload []byte }

func (JoinDHT) Kind() MessageKind                  { return KindJoinDHT }
func (LeaveDHT) Kind() MessageKind                 { return KindLeaveDHT }
func (ConnectNodeSend) Kind() MessageKind          { return KindConnectNodeSend }
func (ConnectNodeReport) Kind() MessageKind        { return KindConnectNodeReport }
func (AlreadyConnected) Kind() MessageKind         { return KindAlreadyConnected }
func (FindSuccessorSend) Kind() MessageKind        { return KindFindSuccessorSend }
func (FindSuccessorReport) Kind() MessageKind      { return KindFindSuccessorReport }
func (NotifyPredecessorSend) Kind() MessageKind    { return KindNotifyPredecessorSend }
func (NotifyPredecessorReport) Kind() MessageKind  { return KindNotifyPredecessorReport }
func (SyncVNodeWithSuccessor) Kind() MessageKind   { return KindSyncVNodeWithSuccessor }
func (StoreVNode) Kind() MessageKind               { return KindStoreVNode }
func (SearchVNode) Kind() MessageKind              { return KindSearchVNode }
func (FoundVNode) Kind() MessageKind               { return KindFoundVNode }
func (MultiCall) Kind() MessageKind                { return KindMultiCall }
func (CustomMessage) Kind() MessageKind            { return KindCustomMessage }

// binWriter is a small length-prefixed binary encoder. It never errors;
// growth is unbounded append, mirroring bytes.Buffer.
type binWriter struct {
	buf []byte
}

func (w *binWriter) WriteUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *binWriter) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *binWriter) WriteDid(d Did) { w.buf = append(w.buf, d[:]...) }
func (w *binWriter) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *binWriter) WriteString(s string) { w.WriteBytes([]byte(s)) }
func (w *binWriter) Bytes() []byte        { return w.buf }

// binReader mirrors binWriter, reading back the same length-prefixed
// encoding and returning io.ErrUnexpectedEOF on truncated input.
type binReader struct {
	buf []byte
	pos int
}

func newBinReader(b []byte) *binReader { return &binReader{buf: b} }

func (r *binReader) ReadUint8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *binReader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *binReader) ReadDid() (Did, error) {
	if r.pos+idBytes > len(r.buf) {
		return ZeroDid, io.ErrUnexpectedEOF
	}
	d := DidFromBytes(r.buf[r.pos : r.pos+idBytes])
	r.pos += idBytes
	return d, nil
}

func (r *binReader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

func (r *binReader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m JoinDHT) encodeBody(w *binWriter)  { w.WriteDid(m.ID) }
func (m LeaveDHT) encodeBody(w *binWriter) { w.WriteDid(m.ID) }

func (m ConnectNodeSend) encodeBody(w *binWriter) {
	w.WriteDid(m.Sender)
	w.WriteDid(m.Target)
	w.WriteString(m.TransportUUID)
	w.WriteBytes(m.HandshakeInfo)
}

func (m ConnectNodeReport) encodeBody(w *binWriter) {
	w.WriteDid(m.AnswerID)
	w.WriteString(m.TransportUUID)
	w.WriteBytes(m.HandshakeInfo)
}

func (m AlreadyConnected) encodeBody(w *binWriter) {
	w.WriteDid(m.AnswerID)
	w.WriteString(m.TransportUUID)
}

func (m FindSuccessorSend) encodeBody(w *binWriter) {
	w.WriteDid(m.Target)
	w.WriteUint8(uint8(m.Then))
	if m.Strict {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
	w.WriteUint32(uint32(m.FingerIndex))
}

func (m FindSuccessorReport) encodeBody(w *binWriter) {
	w.WriteDid(m.ID)
	w.WriteUint8(uint8(m.Then))
	w.WriteUint32(uint32(m.FingerIndex))
}

func (m NotifyPredecessorSend) encodeBody(w *binWriter)   { w.WriteDid(m.ID) }
func (m NotifyPredecessorReport) encodeBody(w *binWriter) { w.WriteDid(m.ID) }

func (m SyncVNodeWithSuccessor) encodeBody(w *binWriter) {
	// Map iteration order is random, but this encoding is also what gets
	// hashed and signed, so it has to be byte-stable across re-encodes.
	ids := make([]Did, 0, len(m.Values))
	for id := range m.Values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	w.WriteUint32(uint32(len(ids)))
	for _, id := range ids {
		w.WriteDid(id)
		w.WriteBytes(m.Values[id])
	}
}

func (m StoreVNode) encodeBody(w *binWriter) {
	w.WriteDid(m.ID)
	w.WriteBytes(m.Value)
}

func (m SearchVNode) encodeBody(w *binWriter) { w.WriteDid(m.ID) }

func (m FoundVNode) encodeBody(w *binWriter) {
	w.WriteDid(m.ID)
	w.WriteBytes(m.Value)
}

func (m MultiCall) encodeBody(w *binWriter) {
	w.WriteUint32(uint32(len(m.Messages)))
	for _, inner := range m.Messages {
		w.WriteUint8(uint8(inner.Kind()))
		inner.encodeBody(w)
	}
}

func (m CustomMessage) encodeBody(w *binWriter) { w.WriteBytes(m.Payload) }

// encodeMessage writes tag + body, the `data` section of the envelope.
func encodeMessage(m Message) []byte {
	w := &binWriter{}
	w.WriteUint8(uint8(m.Kind()))
	m.encodeBody(w)
	return w.Bytes()
}

// decodeMessage reads tag + body back into a concrete Message.
func decodeMessage(b []byte) (Message, error) {
	r := newBinReader(b)
	tag, err := r.ReadUint8()
	if err != nil {
		return nil, errors.Wrap(err, "read message tag")
	}
	return decodeMessageBody(r, MessageKind(tag))
}

func decodeMessageBody(r *binReader, kind MessageKind) (Message, error) {
	switch kind {
	case KindJoinDHT:
		id, err := r.ReadDid()
		return JoinDHT{ID: id}, err
	case KindLeaveDHT:
		id, err := r.ReadDid()
		return LeaveDHT{ID: id}, err
	case KindConnectNodeSend:
		sender, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		target, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		uuid, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		info, err := r.ReadBytes()
		return ConnectNodeSend{Sender: sender, Target: target, TransportUUID: uuid, HandshakeInfo: info}, err
	case KindConnectNodeReport:
		answer, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		uuid, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		info, err := r.ReadBytes()
		return ConnectNodeReport{AnswerID: answer, TransportUUID: uuid, HandshakeInfo: info}, err
	case KindAlreadyConnected:
		id, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		uuid, err := r.ReadString()
		return AlreadyConnected{AnswerID: id, TransportUUID: uuid}, err
	case KindFindSuccessorSend:
		target, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		then, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		strict, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		fingerIndex, err := r.ReadUint32()
		return FindSuccessorSend{Target: target, Then: ThenKind(then), Strict: strict != 0, FingerIndex: int(fingerIndex)}, err
	case KindFindSuccessorReport:
		id, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		then, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		fingerIndex, err := r.ReadUint32()
		return FindSuccessorReport{ID: id, Then: ThenKind(then), FingerIndex: int(fingerIndex)}, err
	case KindNotifyPredecessorSend:
		id, err := r.ReadDid()
		return NotifyPredecessorSend{ID: id}, err
	case KindNotifyPredecessorReport:
		id, err := r.ReadDid()
		return NotifyPredecessorReport{ID: id}, err
	case KindSyncVNodeWithSuccessor:
		n, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		values := make(map[Did][]byte, n)
		for i := uint32(0); i < n; i++ {
			id, err := r.ReadDid()
			if err != nil {
				return nil, err
			}
			v, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			values[id] = v
		}
		return SyncVNodeWithSuccessor{Values: values}, nil
	case KindStoreVNode:
		id, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadBytes()
		return StoreVNode{ID: id, Value: v}, err
	case KindSearchVNode:
		id, err := r.ReadDid()
		return SearchVNode{ID: id}, err
	case KindFoundVNode:
		id, err := r.ReadDid()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadBytes()
		return FoundVNode{ID: id, Value: v}, err
	case KindMultiCall:
		n, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		msgs := make([]Message, 0, n)
		for i := uint32(0); i < n; i++ {
			innerTag, err := r.ReadUint8()
			if err != nil {
				return nil, err
			}
			inner, err := decodeMessageBody(r, MessageKind(innerTag))
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, inner)
		}
		return MultiCall{Messages: msgs}, nil
	case KindCustomMessage:
		b, err := r.ReadBytes()
		return CustomMessage{Payload: b}, err
	default:
		return nil, errors.Errorf("unknown message tag %d", kind)
	}
}
