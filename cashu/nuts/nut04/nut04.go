// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"
	"fmt"

	"github.com/gocashu/wallet/cashu"
)

// State is the lifecycle state of a mint quote.
type State int

const (
	Unpaid State = iota
	Paid
	Issued
)

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "UNPAID":
		*s = Unpaid
	case "PAID":
		*s = Paid
	case "ISSUED":
		*s = Issued
	default:
		return fmt.Errorf("invalid mint quote state: %s", str)
	}
	return nil
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
	// Description is an optional, mint-supported invoice description (NUT-04).
	Description string `json:"description,omitempty"`
	// Pubkey locks the quote per NUT-20: the mint request must be signed
	// by the matching private key.
	Pubkey string `json:"pubkey,omitempty"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   State  `json:"state"`
	Expiry  int64  `json:"expiry"`
	// Pubkey, when set, means this quote is locked per NUT-20 and the
	// mint request must carry a witness signature over quote id + outputs.
	Pubkey string `json:"pubkey,omitempty"`
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
	// Signature is the NUT-20 schnorr signature required when the quote
	// was returned with a Pubkey.
	Signature string `json:"signature,omitempty"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
