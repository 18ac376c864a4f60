package pake

import "crypto/sha256"

// blind returns alpha = H'(input)^r for a fresh random blinding scalar r,
// the client-side half of the OPRF (mirrors occlude's Client.NewSession
// Alpha computation).
func blind(input []byte) (alpha *point, r *scalar) {
	r = randomScalar()
	alpha = hashToCurve(input).mult(r)
	return alpha, r
}

// evaluate returns beta = alpha^k, the server-side OPRF evaluation under
// its per-record secret scalar k (mirrors occlude's Server.NewSession
// beta computation).
func evaluate(alpha *point, k *scalar) *point {
	return alpha.mult(k)
}

// finalize unblinds beta with r^-1 and derives rw = H(input, H'(input)^k),
// the shared OPRF output both registration and login derive keys from
// (mirrors occlude's oprfA/oprfB).
func finalize(input []byte, beta *point, r *scalar) []byte {
	unblinded := beta.mult(r.invert())
	h := sha256.New()
	h.Write(input)
	h.Write(unblinded.encode())
	return h.Sum(nil)
}
