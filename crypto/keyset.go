package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PublicKeys maps a denomination amount to the keyset's public key for that
// amount. It has a custom JSON codec so that on the wire every amount key
// is the amount's decimal string and every value is a hex-encoded
// compressed point, matching the NUT-01 keys object.
type PublicKeys map[uint64]*secp256k1.PublicKey

// MarshalJSON writes keys sorted by ascending amount, matching the order
// DeriveKeysetId hashes over.
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, 0, len(pks))
	for k := range pks {
		amounts = append(amounts, k)
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(amount)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.Write(key)
		buf.WriteByte('"')
		buf.WriteByte(':')

		pubkey := hex.EncodeToString(pks[amount].SerializeCompressed())
		val, err := json.Marshal(pubkey)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var tempKeys map[uint64]string
	if err := json.Unmarshal(data, &tempKeys); err != nil {
		return err
	}

	for amount, key := range tempKeys {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		publicKey, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = publicKey
	}
	return nil
}

// MapPubKeys converts a keyset's PublicKeys into the plain
// map[uint64]*secp256k1.PublicKey the wallet carries internally.
func MapPubKeys(keys PublicKeys) (map[uint64]*secp256k1.PublicKey, error) {
	out := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		if key == nil {
			return nil, fmt.Errorf("nil public key for amount %v", amount)
		}
		out[amount] = key
	}
	return out, nil
}

// DeriveKeysetId returns the keyset ID derived from its public keys:
//   - sort public keys by their amount in ascending order
//   - concatenate all compressed public keys into one byte array
//   - SHA-256 the concatenation
//   - prefix the first 14 hex chars of the hash with version byte "00"
func DeriveKeysetId(keyset map[uint64]*secp256k1.PublicKey) string {
	type pubkey struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}
	pubkeys := make([]pubkey, 0, len(keyset))
	for amount, key := range keyset {
		pubkeys = append(pubkeys, pubkey{amount, key})
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].amount < pubkeys[j].amount
	})

	keys := make([]byte, 0, len(pubkeys)*33)
	for _, key := range pubkeys {
		keys = append(keys, key.pk.SerializeCompressed()...)
	}
	hash := sha256.Sum256(keys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// KeysetsMap maps a mint URL to the wallet's known keysets for that mint.
type KeysetsMap map[string][]WalletKeyset

// WalletKeyset is a mint's keyset as tracked by the wallet: its public keys
// plus the wallet-local deterministic-secret counter for NUT-13.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]*secp256k1.PublicKey
	Counter     uint32
	InputFeePpk uint
}

type walletKeysetTemp struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64][]byte
	Counter     uint32
	InputFeePpk uint
}

func (wk *WalletKeyset) MarshalJSON() ([]byte, error) {
	temp := &walletKeysetTemp{
		Id:      wk.Id,
		MintURL: wk.MintURL,
		Unit:    wk.Unit,
		Active:  wk.Active,
		PublicKeys: func() map[uint64][]byte {
			m := make(map[uint64][]byte, len(wk.PublicKeys))
			for k, v := range wk.PublicKeys {
				m[k] = v.SerializeCompressed()
			}
			return m
		}(),
		Counter:     wk.Counter,
		InputFeePpk: wk.InputFeePpk,
	}

	return json.Marshal(temp)
}

func (wk *WalletKeyset) UnmarshalJSON(data []byte) error {
	temp := &walletKeysetTemp{}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	wk.Id = temp.Id
	wk.MintURL = temp.MintURL
	wk.Unit = temp.Unit
	wk.Active = temp.Active
	wk.Counter = temp.Counter
	wk.InputFeePpk = temp.InputFeePpk

	wk.PublicKeys = make(map[uint64]*secp256k1.PublicKey, len(temp.PublicKeys))
	for k, v := range temp.PublicKeys {
		kp, err := secp256k1.ParsePubKey(v)
		if err != nil {
			return err
		}
		wk.PublicKeys[k] = kp
	}

	return nil
}
