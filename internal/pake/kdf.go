package pake

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// prf is the pseudorandom function used to derive the session key and
// confirmation tags from the 3DH transcript secret, keyed HMAC-SHA-256
// standing in for occlude's keyed Blake2b (spec pins SHA-256 throughout).
func prf(k []byte, label byte) []byte {
	mac := hmac.New(sha256.New, k)
	mac.Write([]byte{label})
	return mac.Sum(nil)
}

// deriveEnvelopeKeys derives a MAC key and a cipher key from the OPRF
// output rw, via HKDF-SHA-256, matching occlude's deriveHKDFKeys but on
// the spec-mandated hash.
func deriveEnvelopeKeys(rw []byte) (macKey, cipherKey []byte) {
	r := hkdf.New(sha256.New, rw, nil, []byte("darkauth-opaque-envelope"))
	macKey = make([]byte, 32)
	cipherKey = make([]byte, 32)
	if _, err := io.ReadFull(r, macKey); err != nil {
		panic("pake: hkdf: " + err.Error())
	}
	if _, err := io.ReadFull(r, cipherKey); err != nil {
		panic("pake: hkdf: " + err.Error())
	}
	return macKey, cipherKey
}

// ke3DHServer computes the 3DH transcript secret from the server's perspective:
// K = SHA-256(xs*Pu || ps*Xu || xs*Xu).
func ke3DHServer(ps *scalar, xs *scalar, Pu, Xu *point) []byte {
	xsPu := Pu.mult(xs)
	psXu := Xu.mult(ps)
	xsXu := Xu.mult(xs)
	return hashConcat(xsPu, psXu, xsXu)
}

// ke3DHClient computes the same transcript secret from the client's
// perspective: K = SHA-256(pu*Xs || xu*Ps || xu*Xs).
func ke3DHClient(pu *scalar, xu *scalar, Ps, Xs *point) []byte {
	puXs := Xs.mult(pu)
	xuPs := Ps.mult(xu)
	xuXs := Xs.mult(xu)
	return hashConcat(puXs, xuPs, xuXs)
}

func hashConcat(pts ...*point) []byte {
	h := sha256.New()
	for _, p := range pts {
		h.Write(p.encode())
	}
	return h.Sum(nil)
}
