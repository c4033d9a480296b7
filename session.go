package chord

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// SessionManager signs and verifies payloads and derives a node's Did
// from its public key. The core only ever depends on this interface,
// never on a concrete key type, so a caller can substitute their own
// key-management backend.
type SessionManager interface {
	// Did is the identifier derived from this session's public key.
	Did() Did
	// Sign signs the given bytes with the session's private key.
	Sign(data []byte) ([]byte, error)
	// Verify checks that sig is a valid signature over data by the holder
	// of pubkey (as returned by PublicKey).
	Verify(pubkey []byte, data []byte, sig []byte) bool
	// PublicKey returns the uncompressed public key bytes for this session.
	PublicKey() []byte
	// SessionKey returns symmetric key material derived from the private
	// key, used to encrypt/decrypt CustomMessage bodies.
	SessionKey() ([]byte, error)
}

// ecdsaSessionManager is the default SessionManager: secp256k1 keys with
// Keccak256 hashing, so the Did is the address derived from the
// uncompressed public key and payloads carry the standard 65-byte
// [R || S || V] recoverable signature.
type ecdsaSessionManager struct {
	priv *ecdsa.PrivateKey
	did  Did
}

// NewSessionManager builds a SessionManager around an existing secp256k1
// private key.
func NewSessionManager(priv *ecdsa.PrivateKey) SessionManager {
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	return &ecdsaSessionManager{priv: priv, did: Did(addr)}
}

// GenerateSessionManager creates a SessionManager backed by a fresh random
// secp256k1 key, convenient for tests and for bootstrapping a new node
// identity.
func GenerateSessionManager() (SessionManager, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate session key")
	}
	return NewSessionManager(priv), nil
}

func (s *ecdsaSessionManager) Did() Did {
	return s.did
}

func (s *ecdsaSessionManager) Sign(data []byte) ([]byte, error) {
	hash := crypto.Keccak256(data)
	sig, err := crypto.Sign(hash, s.priv)
	if err != nil {
		return nil, errors.Wrap(err, "sign payload")
	}
	return sig, nil
}

func (s *ecdsaSessionManager) Verify(pubkey []byte, data []byte, sig []byte) bool {
	if len(sig) != 65 {
		return false
	}
	hash := crypto.Keccak256(data)
	// crypto.SigToPub wants the recoverable signature without requiring
	// the caller to already hold the claimed public key, but we still
	// check it matches the key the payload claims to be from.
	recovered, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	recoveredBytes := crypto.FromECDSAPub(recovered)
	if len(pubkey) != len(recoveredBytes) {
		return false
	}
	for i := range pubkey {
		if pubkey[i] != recoveredBytes[i] {
			return false
		}
	}
	return crypto.VerifySignature(pubkey, hash, sig[:64])
}

func (s *ecdsaSessionManager) PublicKey() []byte {
	return crypto.FromECDSAPub(&s.priv.PublicKey)
}

func (s *ecdsaSessionManager) SessionKey() ([]byte, error) {
	// Derived symmetric key for CustomMessage encryption: Keccak256 of the
	// raw private scalar. Never transmitted; only ever used locally to
	// decrypt messages encrypted by the application callback under the
	// same convention.
	return crypto.Keccak256(s.priv.D.Bytes()), nil
}

// didFromPublicKey derives a Did the same way SessionManager does, for
// callers (e.g. handlers validating origin_verification) that only have
// the recovered public key bytes on hand.
func didFromPublicKey(pubkey []byte) (Did, error) {
	pub, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return ZeroDid, errors.Wrap(err, "unmarshal public key")
	}
	return Did(crypto.PubkeyToAddress(*pub)), nil
}
