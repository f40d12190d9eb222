// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import (
	"encoding/json"
	"fmt"

	"github.com/gocashu/wallet/cashu"
)

// State is the lifecycle state of a melt quote.
type State int

const (
	Unpaid State = iota
	Pending
	Paid
)

func (s State) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
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
	case "PENDING":
		*s = Pending
	case "PAID":
		*s = Paid
	default:
		return fmt.Errorf("invalid melt quote state: %s", str)
	}
	return nil
}

// MppOption carries the partial amount, in millisatoshis, for a multi-path
// payment leg (NUT-15).
type MppOption struct {
	AmountMsat uint64 `json:"amount_msat"`
}

type PostMeltQuoteBolt11Request struct {
	Request string               `json:"request"`
	Unit    string               `json:"unit"`
	Options map[string]MppOption `json:"options,omitempty"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      State  `json:"state"`
	Expiry     int64  `json:"expiry"`
	Preimage   string `json:"payment_preimage,omitempty"`
	// Change carries blank-output (NUT-08) signatures for fee overpayment.
	Change cashu.BlindedSignatures `json:"change,omitempty"`
}

type PostMeltBolt11Request struct {
	Quote   string                `json:"quote"`
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}

type PostMeltBolt11Response = PostMeltQuoteBolt11Response
