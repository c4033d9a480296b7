package chord

import (
	"math/big"
	"testing"
)

func didFromUint(v uint64) Did {
	return DidFromBytes(new(big.Int).SetUint64(v).Bytes())
}

func TestDistanceWraps(t *testing.T) {
	a := didFromUint(10)
	b := didFromUint(3)

	forward := distance(b, a)
	if forward.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("distance(3, 10) = %v, want 7", forward)
	}

	backward := distance(a, b)
	want := new(big.Int).Sub(two160, big.NewInt(7))
	if backward.Cmp(want) != 0 {
		t.Fatalf("distance(10, 3) = %v, want 2^160 - 7", backward)
	}
}

func TestBiasSelfIsZero(t *testing.T) {
	self := didFromUint(42)
	if bias(self, self).Sign() != 0 {
		t.Fatalf("bias(self, self) = %v, want 0", bias(self, self))
	}
}

func TestBetweenHalfOpen(t *testing.T) {
	a := didFromUint(10)
	b := didFromUint(20)

	if between(a, b, a) {
		t.Fatal("a must not be in (a, b]")
	}
	if !between(a, b, b) {
		t.Fatal("b must be in (a, b]")
	}
	if !between(a, b, didFromUint(15)) {
		t.Fatal("15 must be in (10, 20]")
	}
	if between(a, b, didFromUint(25)) {
		t.Fatal("25 must not be in (10, 20]")
	}
}

func TestBetweenWrapsAroundZero(t *testing.T) {
	a := didFromUint(20)
	b := didFromUint(10)

	// (20, 10] crosses zero, so very large ids and small ids are inside.
	if !between(a, b, didFromUint(5)) {
		t.Fatal("5 must be in (20, 10]")
	}
	huge := didFromBig(new(big.Int).Sub(two160, big.NewInt(1)))
	if !between(a, b, huge) {
		t.Fatal("2^160-1 must be in (20, 10]")
	}
	if between(a, b, didFromUint(15)) {
		t.Fatal("15 must not be in (20, 10]")
	}
}

func TestBetweenExclusiveDirections(t *testing.T) {
	// For distinct a, b, exactly one direction contains any third distinct x.
	a := didFromUint(100)
	b := didFromUint(200)
	x := didFromUint(150)

	in := betweenOpen(a, b, x)
	out := betweenOpen(b, a, x)
	if in == out {
		t.Fatalf("x must be in exactly one of (a,b) and (b,a): got %v and %v", in, out)
	}
}

func TestPowerOffset(t *testing.T) {
	self := didFromUint(1)
	if got := powerOffset(self, 0); got != didFromUint(2) {
		t.Fatalf("1 + 2^0 = %s, want 2", got)
	}
	if got := powerOffset(self, 4); got != didFromUint(17) {
		t.Fatalf("1 + 2^4 = %s, want 17", got)
	}

	// Offsets wrap modulo 2^160.
	top := didFromBig(new(big.Int).Sub(two160, big.NewInt(1)))
	if got := powerOffset(top, 0); got != ZeroDid {
		t.Fatalf("(2^160-1) + 1 = %s, want 0", got)
	}
}

func TestDidFromBytesTruncatesAndPads(t *testing.T) {
	long := make([]byte, 32)
	long[31] = 7
	if got := DidFromBytes(long); got != didFromUint(7) {
		t.Fatalf("long input: got %s, want 7", got)
	}
	if got := DidFromBytes([]byte{7}); got != didFromUint(7) {
		t.Fatalf("short input: got %s, want 7", got)
	}
}
