package chord

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// TxID uniquely identifies one payload for replay protection: 16 random
// bytes from crypto/rand.
type TxID [16]byte

func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

func newTxID() (TxID, error) {
	var id TxID
	if _, err := rand.Read(id[:]); err != nil {
		return id, errors.Wrap(err, "generate tx_id")
	}
	return id, nil
}

// Verification is a signature plus the public key that produced it, so a
// verifier never has to already know who signed.
type Verification struct {
	Sig    []byte
	PubKey []byte
}

func sign(sm SessionManager, hash []byte) (Verification, error) {
	sig, err := sm.Sign(hash)
	if err != nil {
		return Verification{}, err
	}
	return Verification{Sig: sig, PubKey: sm.PublicKey()}, nil
}

func (v Verification) verify(sm SessionManager, hash []byte) bool {
	if len(v.Sig) == 0 || len(v.PubKey) == 0 {
		return false
	}
	return sm.Verify(v.PubKey, hash, v.Sig)
}

// did derives the Did of the key that produced this verification.
func (v Verification) did() (Did, error) {
	return didFromPublicKey(v.PubKey)
}

// Payload is the signed envelope carried over every transport.
// origin_verification is computed once at construction and never
// touched again, proving who originated the message regardless of how
// many hops it crosses. verification is recomputed by whichever node is
// about to forward it, over the relay header as it stands at that moment.
type Payload struct {
	TxID               TxID
	OriginVerification Verification
	Verification       Verification
	Relay              RelayHeader
	Data               Message

	// Addr is the immediate sender's id, derived from Verification once
	// decoded. It is not part of the wire encoding.
	Addr Did
}

// originHash hashes the immutable part of a payload: tx_id and body only.
// This is what origin_verification signs, which is why it stays valid
// across every hop no matter how the relay header is rewritten in
// transit.
func originHash(txID TxID, data Message) []byte {
	w := &binWriter{}
	w.buf = append(w.buf, txID[:]...)
	w.buf = append(w.buf, encodeMessage(data)...)
	return crypto.Keccak256(w.Bytes())
}

// hopHash hashes tx_id, the relay header as it currently stands, and the
// body. This is what verification signs; it is recomputed by whoever is
// about to forward the payload.
func hopHash(txID TxID, relay RelayHeader, data Message) []byte {
	w := &binWriter{}
	w.buf = append(w.buf, txID[:]...)
	encodeRelay(w, relay)
	w.buf = append(w.buf, encodeMessage(data)...)
	return crypto.Keccak256(w.Bytes())
}

// newPayload builds and signs a freshly authored SEND payload. Both
// verification fields start out signed by the same key: the origin is
// also the first forwarder.
func newPayload(sm SessionManager, data Message, relay RelayHeader) (*Payload, error) {
	txID, err := newTxID()
	if err != nil {
		return nil, err
	}
	origin, err := sign(sm, originHash(txID, data))
	if err != nil {
		return nil, err
	}
	hop, err := sign(sm, hopHash(txID, relay, data))
	if err != nil {
		return nil, err
	}
	return &Payload{
		TxID:               txID,
		OriginVerification: origin,
		Verification:       hop,
		Relay:              relay,
		Data:               data,
		Addr:               sm.Did(),
	}, nil
}

// resign recomputes Verification (not OriginVerification) over the
// current relay state, to be called by whichever node is about to forward
// the payload onward.
func (p *Payload) resign(sm SessionManager) error {
	v, err := sign(sm, hopHash(p.TxID, p.Relay, p.Data))
	if err != nil {
		return err
	}
	p.Verification = v
	p.Addr = sm.Did()
	return nil
}

// verify checks both signatures over the payload's current fields and
// derives Addr from Verification. It does not check replay; callers
// combine this with a ReplayCache.
func (p *Payload) verify(sm SessionManager) error {
	if !p.Verification.verify(sm, hopHash(p.TxID, p.Relay, p.Data)) {
		return newError(ErrInvalidPayload, "per-hop verification failed")
	}
	if !p.OriginVerification.verify(sm, originHash(p.TxID, p.Data)) {
		return newError(ErrInvalidPayload, "origin verification failed")
	}
	addr, err := p.Verification.did()
	if err != nil {
		return newError(ErrInvalidPayload, "derive sender address: %v", err)
	}
	p.Addr = addr
	return nil
}

func encodeRelay(w *binWriter, relay RelayHeader) {
	w.WriteUint8(uint8(relay.Method))
	w.WriteUint32(uint32(len(relay.Path)))
	for _, id := range relay.Path {
		w.WriteDid(id)
	}
	w.WriteUint32(relay.PathEndCursor)
	if relay.NextHop != nil {
		w.WriteUint8(1)
		w.WriteDid(*relay.NextHop)
	} else {
		w.WriteUint8(0)
	}
	w.WriteDid(relay.Destination)
}

func decodeRelay(r *binReader) (RelayHeader, error) {
	var relay RelayHeader
	method, err := r.ReadUint8()
	if err != nil {
		return relay, err
	}
	relay.Method = RelayMethod(method)
	n, err := r.ReadUint32()
	if err != nil {
		return relay, err
	}
	relay.Path = make([]Did, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.ReadDid()
		if err != nil {
			return relay, err
		}
		relay.Path = append(relay.Path, id)
	}
	relay.PathEndCursor, err = r.ReadUint32()
	if err != nil {
		return relay, err
	}
	hasNext, err := r.ReadUint8()
	if err != nil {
		return relay, err
	}
	if hasNext != 0 {
		id, err := r.ReadDid()
		if err != nil {
			return relay, err
		}
		relay.NextHop = &id
	}
	relay.Destination, err = r.ReadDid()
	return relay, err
}

func encodeVerification(w *binWriter, v Verification) {
	w.WriteBytes(v.Sig)
	w.WriteBytes(v.PubKey)
}

func decodeVerification(r *binReader) (Verification, error) {
	sig, err := r.ReadBytes()
	if err != nil {
		return Verification{}, err
	}
	pub, err := r.ReadBytes()
	if err != nil {
		return Verification{}, err
	}
	return Verification{Sig: sig, PubKey: pub}, nil
}

// EncodePayload serializes a payload as
// tx_id | origin_verification | verification | relay | data.
func EncodePayload(p *Payload) []byte {
	w := &binWriter{}
	w.buf = append(w.buf, p.TxID[:]...)
	encodeVerification(w, p.OriginVerification)
	encodeVerification(w, p.Verification)
	encodeRelay(w, p.Relay)
	w.buf = append(w.buf, encodeMessage(p.Data)...)
	return w.Bytes()
}

// DecodePayload parses bytes produced by EncodePayload. It does not verify
// signatures; call Payload.verify separately.
func DecodePayload(b []byte) (*Payload, error) {
	r := newBinReader(b)
	if len(r.buf) < 16 {
		return nil, newError(ErrInvalidPayload, "payload shorter than tx_id")
	}
	var txID TxID
	copy(txID[:], r.buf[:16])
	r.pos = 16

	origin, err := decodeVerification(r)
	if err != nil {
		return nil, newError(ErrInvalidPayload, "decode origin_verification: %v", err)
	}
	verification, err := decodeVerification(r)
	if err != nil {
		return nil, newError(ErrInvalidPayload, "decode verification: %v", err)
	}
	relay, err := decodeRelay(r)
	if err != nil {
		return nil, newError(ErrInvalidPayload, "decode relay: %v", err)
	}
	msg, err := decodeMessageFromReader(r)
	if err != nil {
		return nil, newError(ErrInvalidPayload, "decode data: %v", err)
	}
	return &Payload{
		TxID:               txID,
		OriginVerification: origin,
		Verification:       verification,
		Relay:              relay,
		Data:               msg,
	}, nil
}

// decodeMessageFromReader reads a tag+body pair from an in-progress
// binReader, used when the message body is one section of a larger
// envelope rather than a standalone buffer.
func decodeMessageFromReader(r *binReader) (Message, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	return decodeMessageBody(r, MessageKind(tag))
}

// ReplayCache is the bounded recent-tx_id window used for replay
// protection: a FIFO set that forgets the oldest entry once full.
type ReplayCache struct {
	mu       sync.Mutex
	capacity int
	order    []TxID
	seen     map[TxID]struct{}
}

// NewReplayCache builds a cache holding up to capacity recent tx_ids.
func NewReplayCache(capacity int) *ReplayCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ReplayCache{
		capacity: capacity,
		order:    make([]TxID, 0, capacity),
		seen:     make(map[TxID]struct{}, capacity),
	}
}

// CheckAndRemember reports whether txID has already been seen. If not, it
// is recorded and false is returned (not a replay); if it has, true is
// returned (replay detected) and the cache is left unchanged.
func (c *ReplayCache) CheckAndRemember(txID TxID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[txID]; ok {
		return true
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	c.order = append(c.order, txID)
	c.seen[txID] = struct{}{}
	return false
}
