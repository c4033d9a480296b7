package chord

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// idBits is the width of the ring: identifiers are derived from the low
// 160 bits of a keccak-like hash of a node's uncompressed public key, the
// same width as an Ethereum address.
const idBits = 160

// idBytes is idBits expressed in bytes.
const idBytes = idBits / 8

// two160 is the ring modulus, 2^160.
var two160 = new(big.Int).Lsh(big.NewInt(1), idBits)

// Did is a 160-bit node identifier. It is byte-for-byte compatible with an
// Ethereum address, since that is how SessionManager derives it from a
// public key (see session.go).
type Did [idBytes]byte

// ZeroDid is the identifier with every bit unset.
var ZeroDid Did

// DidFromBytes builds a Did from a big-endian byte slice, left-padding or
// truncating to idBytes as needed.
func DidFromBytes(b []byte) Did {
	var d Did
	if len(b) > idBytes {
		b = b[len(b)-idBytes:]
	}
	copy(d[idBytes-len(b):], b)
	return d
}

// String renders the identifier as a lowercase hex string.
func (d Did) String() string {
	return hex.EncodeToString(d[:])
}

// Big returns the identifier as an unsigned big.Int.
func (d Did) Big() *big.Int {
	return new(big.Int).SetBytes(d[:])
}

// IsZero reports whether d is the zero identifier.
func (d Did) IsZero() bool {
	return d == ZeroDid
}

// Equal reports whether two identifiers are the same.
func (d Did) Equal(o Did) bool {
	return d == o
}

// didFromBig renders a big.Int back into a Did, wrapping modulo 2^160.
func didFromBig(n *big.Int) Did {
	m := new(big.Int).Mod(n, two160)
	return DidFromBytes(m.Bytes())
}

// distance computes (b - a) mod 2^160: the number of steps clockwise from
// a to b on the ring.
func distance(a, b Did) *big.Int {
	d := new(big.Int).Sub(b.Big(), a.Big())
	d.Mod(d, two160)
	return d
}

// bias is the modular distance from self to x, i.e. how far clockwise x
// sits from self.
func bias(self, x Did) *big.Int {
	return distance(self, x)
}

// powerOffset returns self + 2^i (mod 2^160), the identifier whose
// successor finger[i] tracks.
func powerOffset(self Did, i int) Did {
	if i < 0 || i >= idBits {
		panic(fmt.Sprintf("finger index out of range: %d", i))
	}
	offset := new(big.Int).Lsh(big.NewInt(1), uint(i))
	sum := new(big.Int).Add(self.Big(), offset)
	return didFromBig(sum)
}

// between reports whether x lies in the half-open ring interval (a, b]:
// x is strictly clockwise of a and no farther than b is, and x != a.
//
// The ring state machine uses it for find_successor, fix_fingers, vnode
// responsibility and vnode migration on sync; notify and
// closest_preceding_node use the open interval of betweenOpen instead.
func between(a, b, x Did) bool {
	if x == a {
		return false
	}
	return distance(a, x).Cmp(distance(a, b)) <= 0
}

// betweenOpen reports whether x lies in the open ring interval (a, b):
// strictly clockwise of a and strictly short of b.
func betweenOpen(a, b, x Did) bool {
	if x == a || x == b {
		return false
	}
	return distance(a, x).Cmp(distance(a, b)) < 0
}
