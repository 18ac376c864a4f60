package pake

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
)

// The OPAQUE engine runs entirely over the NIST P-256 group, as the
// curve the protocol is pinned to (spec: OPAQUE-P256). Group element
// and scalar arithmetic use stdlib crypto/elliptic + math/big directly
// rather than crypto/ecdh, because crypto/ecdh deliberately hides raw
// scalar/point operations (only Diffie-Hellman is exposed) and OPAQUE's
// OPRF step needs generic scalar multiplication of an arbitrary
// (hashed-to-curve) point plus scalar inversion for client-side
// unblinding, mirroring the group-element abstraction avahowell-occlude
// builds over Ristretto255.
var curve = elliptic.P256()

var curveN = curve.Params().N

// ErrInvalidPoint is returned when a wire point fails to decode.
var ErrInvalidPoint = errors.New("pake: invalid point encoding")

// point is a P-256 group element.
type point struct {
	X, Y *big.Int
}

// scalar is an element of Z_n for the P-256 group order n.
type scalar struct {
	v *big.Int
}

func randomScalar() *scalar {
	k, err := rand.Int(rand.Reader, curveN)
	if err != nil {
		panic("pake: could not get entropy: " + err.Error())
	}
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return &scalar{v: k}
}

func scalarFromBytes(b []byte) *scalar {
	v := new(big.Int).SetBytes(b)
	v.Mod(v, curveN)
	return &scalar{v: v}
}

func (s *scalar) bytes() []byte {
	return leftPad(s.v.Bytes(), 32)
}

func (s *scalar) invert() *scalar {
	return &scalar{v: new(big.Int).ModInverse(s.v, curveN)}
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func basePointMult(s *scalar) *point {
	x, y := curve.ScalarBaseMult(s.bytes())
	return &point{X: x, Y: y}
}

func (p *point) mult(s *scalar) *point {
	x, y := curve.ScalarMult(p.X, p.Y, s.bytes())
	return &point{X: x, Y: y}
}

func (p *point) encode() []byte {
	return elliptic.MarshalCompressed(curve, p.X, p.Y)
}

func decodePoint(b []byte) (*point, error) {
	x, y := elliptic.UnmarshalCompressed(curve, b)
	if x == nil {
		return nil, ErrInvalidPoint
	}
	return &point{X: x, Y: y}, nil
}

// hashToCurve deterministically maps arbitrary data onto a P-256 point
// via try-and-increment: hash data||counter into a candidate
// x-coordinate until one lies on the curve. This stands in for the
// H'(x) random oracle occlude gets for free from Ristretto's Elligator2
// encoding; P-256's Weierstrass form has no single-step equivalent in
// the standard library.
func hashToCurve(data []byte) *point {
	p := curve.Params().P
	b := curve.Params().B
	for counter := byte(0); ; counter++ {
		h := sha256.Sum256(append(append([]byte{}, data...), counter))
		x := new(big.Int).SetBytes(h[:])
		x.Mod(x, p)

		// y^2 = x^3 - 3x + b (mod p)
		rhs := new(big.Int).Exp(x, big.NewInt(3), p)
		threeX := new(big.Int).Mul(x, big.NewInt(3))
		rhs.Sub(rhs, threeX)
		rhs.Add(rhs, b)
		rhs.Mod(rhs, p)

		y := new(big.Int).ModSqrt(rhs, p)
		if y != nil {
			return &point{X: x, Y: y}
		}
	}
}
