package nut11

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/gocashu/wallet/cashu"
	"github.com/gocashu/wallet/cashu/nuts/nut10"
)

func TestIsSigAll(t *testing.T) {
	tests := []struct {
		p2pkSecretData nut10.WellKnownSecret
		expected       bool
	}{
		{
			p2pkSecretData: nut10.WellKnownSecret{
				Tags: [][]string{},
			},
			expected: false,
		},
		{
			p2pkSecretData: nut10.WellKnownSecret{
				Tags: [][]string{{"sigflag", "SIG_INPUTS"}},
			},
			expected: false,
		},
		{
			p2pkSecretData: nut10.WellKnownSecret{
				Tags: [][]string{
					{"locktime", "882912379"},
					{"refund", "refundkey"},
					{"sigflag", "SIG_ALL"},
				},
			},
			expected: true,
		},
	}

	for _, test := range tests {
		result := IsSigAll(test.p2pkSecretData)
		if result != test.expected {
			t.Fatalf("expected '%v' but got '%v' instead", test.expected, result)
		}
	}
}

func TestCanSign(t *testing.T) {
	privateKey, _ := btcec.NewPrivateKey()
	publicKey := hex.EncodeToString(privateKey.PubKey().SerializeCompressed())

	tests := []struct {
		p2pkSecretData nut10.WellKnownSecret
		expected       bool
	}{
		{
			p2pkSecretData: nut10.WellKnownSecret{
				Data: publicKey,
			},
			expected: true,
		},

		{
			p2pkSecretData: nut10.WellKnownSecret{
				Data: "somerandomkey",
			},
			expected: false,
		},

		{
			p2pkSecretData: nut10.WellKnownSecret{
				Data: "sdjflksjdflsdjfd",
			},
			expected: false,
		},
	}

	for _, test := range tests {
		result := CanSign(test.p2pkSecretData, privateKey)
		if result != test.expected {
			t.Fatalf("expected '%v' but got '%v' instead", test.expected, result)
		}
	}
}

// TestVerifyP2PKProof covers scenario S8: a send locked to pubkey P with
// n_sigs=1 fails verification when witnessed with an unrelated key, and
// succeeds when witnessed with P's matching private key.
func TestVerifyP2PKProof(t *testing.T) {
	lockKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generating lock key: %v", err)
	}
	otherKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generating other key: %v", err)
	}
	pubkeyHex := hex.EncodeToString(lockKey.PubKey().SerializeCompressed())

	secretStr, err := P2PKSecret(pubkeyHex)
	if err != nil {
		t.Fatalf("P2PKSecret: %v", err)
	}
	secretData, err := nut10.DeserializeSecret(secretStr)
	if err != nil {
		t.Fatalf("DeserializeSecret: %v", err)
	}

	proof := cashu.Proof{Amount: 1, Secret: secretStr}

	sign := func(key *btcec.PrivateKey) cashu.Proof {
		hash := sha256.Sum256([]byte(proof.Secret))
		sig, err := schnorr.Sign(key, hash[:])
		if err != nil {
			t.Fatalf("schnorr.Sign: %v", err)
		}
		witness, err := json.Marshal(P2PKWitness{
			Signatures: []string{hex.EncodeToString(sig.Serialize())},
		})
		if err != nil {
			t.Fatalf("marshal witness: %v", err)
		}
		signed := proof
		signed.Witness = string(witness)
		return signed
	}

	if err := VerifyP2PKProof(sign(otherKey), secretData); err == nil {
		t.Fatal("expected verification to fail for a signature from an unrelated key")
	}

	if err := VerifyP2PKProof(sign(lockKey), secretData); err != nil {
		t.Fatalf("expected verification to succeed for the locking key, got: %v", err)
	}
}
