// Package nut12 implements NUT-12: verification of the DLEQ proof a mint
// may attach to a blind signature or, after unblinding, to a proof. It lets
// a wallet confirm offline that a promise really was signed by the
// keyset's private key, without trusting the mint's honesty.
package nut12

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gocashu/wallet/cashu"
	"github.com/gocashu/wallet/crypto"
)

// VerifyProofsDLEQ verifies the DLEQ proof on every proof that carries one.
// Proofs without a DLEQ proof are skipped and do not affect the result.
func VerifyProofsDLEQ(proofs cashu.Proofs, keyset crypto.WalletKeyset) bool {
	for _, proof := range proofs {
		if proof.DLEQ == nil {
			continue
		}

		pubkey, ok := keyset.PublicKeys[proof.Amount]
		if !ok {
			return false
		}

		if !VerifyProofDLEQ(proof, pubkey) {
			return false
		}
	}
	return true
}

// VerifyProofDLEQ reconstructs C_ and B_ from the unblinded proof and the
// blinding factor r carried in the DLEQ proof, then runs Alice's check.
func VerifyProofDLEQ(proof cashu.Proof, A *secp256k1.PublicKey) bool {
	if proof.DLEQ == nil {
		return false
	}
	e, s, r, err := ParseDLEQ(*proof.DLEQ)
	if err != nil || r == nil {
		return false
	}

	CBytes, err := hex.DecodeString(proof.C)
	if err != nil {
		return false
	}
	C, err := secp256k1.ParsePubKey(CBytes)
	if err != nil {
		return false
	}

	// B_ = hash_to_curve(secret) + r*G
	B_, _ := crypto.BlindMessage([]byte(proof.Secret), r.Serialize())

	// C_ = C + r*A
	var CPoint, APoint, rAPoint, C_Point secp256k1.JacobianPoint
	C.AsJacobian(&CPoint)
	A.AsJacobian(&APoint)
	secp256k1.ScalarMultNonConst(&r.Key, &APoint, &rAPoint)
	secp256k1.AddNonConst(&CPoint, &rAPoint, &C_Point)
	C_Point.ToAffine()
	C_ := secp256k1.NewPublicKey(&C_Point.X, &C_Point.Y)

	return crypto.VerifyDLEQ(e, s, A, B_, C_)
}

// VerifyBlindSignatureDLEQ runs Alice's check directly on a mint's promise,
// before unblinding.
func VerifyBlindSignatureDLEQ(dleq cashu.DLEQProof, A *secp256k1.PublicKey, B_str string, C_str string) bool {
	e, s, _, err := ParseDLEQ(dleq)
	if err != nil {
		return false
	}

	B_bytes, err := hex.DecodeString(B_str)
	if err != nil {
		return false
	}
	B_, err := secp256k1.ParsePubKey(B_bytes)
	if err != nil {
		return false
	}

	C_bytes, err := hex.DecodeString(C_str)
	if err != nil {
		return false
	}
	C_, err := secp256k1.ParsePubKey(C_bytes)
	if err != nil {
		return false
	}

	return crypto.VerifyDLEQ(e, s, A, B_, C_)
}

// ParseDLEQ decodes the hex-encoded e, s and (optional, proof-only) r
// scalars out of a DLEQProof.
func ParseDLEQ(dleq cashu.DLEQProof) (e, s, r *secp256k1.PrivateKey, err error) {
	ebytes, err := hex.DecodeString(dleq.E)
	if err != nil {
		return nil, nil, nil, err
	}
	e = secp256k1.PrivKeyFromBytes(ebytes)

	sbytes, err := hex.DecodeString(dleq.S)
	if err != nil {
		return nil, nil, nil, err
	}
	s = secp256k1.PrivKeyFromBytes(sbytes)

	if dleq.R == "" {
		return e, s, nil, nil
	}

	rbytes, err := hex.DecodeString(dleq.R)
	if err != nil {
		return nil, nil, nil, err
	}
	r = secp256k1.PrivKeyFromBytes(rbytes)

	return e, s, r, nil
}
