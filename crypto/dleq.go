package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// GenerateDLEQ is the mint-side proof (NUT-12) that C_ = a*B_ for the
// mint's private key a (with public key A = a*G), without revealing a.
//
// R1 = r*G, R2 = r*B_, e = SHA256(R1 || R2 || A || C_), s = r + e*a mod n.
func GenerateDLEQ(a *secp256k1.PrivateKey, B_ *secp256k1.PublicKey, C_ *secp256k1.PublicKey) (e, s *secp256k1.PrivateKey) {
	rBytes := make([]byte, 32)
	if _, err := rand.Read(rBytes); err != nil {
		panic(err)
	}
	r := secp256k1.PrivKeyFromBytes(rBytes)

	A := a.PubKey()

	var rGPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&r.Key, &rGPoint)
	rGPoint.ToAffine()
	R1 := secp256k1.NewPublicKey(&rGPoint.X, &rGPoint.Y)

	var bPoint, rBPoint secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	secp256k1.ScalarMultNonConst(&r.Key, &bPoint, &rBPoint)
	rBPoint.ToAffine()
	R2 := secp256k1.NewPublicKey(&rBPoint.X, &rBPoint.Y)

	eHash := hashDLEQChallenge(R1, R2, A, C_)
	e = secp256k1.PrivKeyFromBytes(eHash)

	var ea secp256k1.ModNScalar
	ea.Mul2(&e.Key, &a.Key)
	var sScalar secp256k1.ModNScalar
	sScalar.Set(&r.Key)
	sScalar.Add(&ea)
	sBytes := sScalar.Bytes()
	s = secp256k1.PrivKeyFromBytes(sBytes[:])

	return e, s
}

// VerifyDLEQ is Alice's check on a mint's promise: recompute
// R1 = s*G - e*A, R2 = s*B_ - e*C_ and accept iff
// SHA256(R1 || R2 || A || C_) == e.
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	var Apoint, negEA secp256k1.JacobianPoint
	A.AsJacobian(&Apoint)
	secp256k1.ScalarMultNonConst(&eNeg, &Apoint, &negEA)

	var sGPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sGPoint)

	var R1Point secp256k1.JacobianPoint
	secp256k1.AddNonConst(&sGPoint, &negEA, &R1Point)
	R1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&R1Point.X, &R1Point.Y)

	var Cpoint, negEC secp256k1.JacobianPoint
	C_.AsJacobian(&Cpoint)
	secp256k1.ScalarMultNonConst(&eNeg, &Cpoint, &negEC)

	var Bpoint, sBPoint secp256k1.JacobianPoint
	B_.AsJacobian(&Bpoint)
	secp256k1.ScalarMultNonConst(&s.Key, &Bpoint, &sBPoint)

	var R2Point secp256k1.JacobianPoint
	secp256k1.AddNonConst(&sBPoint, &negEC, &R2Point)
	R2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&R2Point.X, &R2Point.Y)

	expected := hashDLEQChallenge(R1, R2, A, C_)
	return bytes.Equal(expected, e.Serialize())
}

// hashDLEQChallenge hashes the concatenated lowercase hex strings of the
// uncompressed (65-byte) encodings of R1, R2, A and C_, in that order.
func hashDLEQChallenge(R1, R2, A, C_ *secp256k1.PublicKey) []byte {
	h := sha256.New()
	for _, p := range []*secp256k1.PublicKey{R1, R2, A, C_} {
		h.Write([]byte(hex.EncodeToString(p.SerializeUncompressed())))
	}
	sum := h.Sum(nil)
	return sum
}
