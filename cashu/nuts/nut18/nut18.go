// Package nut18 implements NUT-18 payment requests: a mint-agnostic,
// receiver-initiated ask for payment that a sender's wallet can decode and
// fulfill without the receiver running any server.
package nut18

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	PaymentRequestPrefix = "creq"
	PaymentRequestV1     = "A"
)

// Transport describes a delivery method the receiver is willing to accept
// a payment over, e.g. posting back to an HTTP endpoint or a Nostr relay.
type Transport struct {
	Type   string     `json:"t" cbor:"t"`
	Target string     `json:"a" cbor:"a"`
	Tags   [][]string `json:"g,omitempty" cbor:"g,omitempty"`
}

// PaymentRequest is the payload encoded behind the "creq" prefix.
type PaymentRequest struct {
	PaymentID   string      `json:"i,omitempty" cbor:"i,omitempty"`
	Amount      uint64      `json:"a,omitempty" cbor:"a,omitempty"`
	Unit        string      `json:"u,omitempty" cbor:"u,omitempty"`
	SingleUse   bool        `json:"r,omitempty" cbor:"r,omitempty"`
	Mints       []string    `json:"m,omitempty" cbor:"m,omitempty"`
	Description string      `json:"d,omitempty" cbor:"d,omitempty"`
	Transports  []Transport `json:"t" cbor:"t"`
}

// Encode serializes the request as "creq" + version byte + base64url(CBOR).
func (p PaymentRequest) Encode() (string, error) {
	requestBytes, err := cbor.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cbor.Marshal(p): %v", err)
	}
	return PaymentRequestPrefix + PaymentRequestV1 + base64.URLEncoding.EncodeToString(requestBytes), nil
}

// DecodePaymentRequest parses a "creq..." string back into a PaymentRequest.
func DecodePaymentRequest(s string) (*PaymentRequest, error) {
	if len(s) < len(PaymentRequestPrefix)+len(PaymentRequestV1) {
		return nil, fmt.Errorf("invalid payment request: too short")
	}
	if s[:len(PaymentRequestPrefix)] != PaymentRequestPrefix {
		return nil, fmt.Errorf("invalid payment request prefix")
	}
	rest := s[len(PaymentRequestPrefix):]
	version := rest[:1]
	if version != PaymentRequestV1 {
		return nil, fmt.Errorf("unsupported payment request version '%v'", version)
	}

	requestBytes, err := base64.URLEncoding.DecodeString(rest[1:])
	if err != nil {
		return nil, fmt.Errorf("error decoding payment request payload: %v", err)
	}

	var request PaymentRequest
	if err := cbor.Unmarshal(requestBytes, &request); err != nil {
		return nil, fmt.Errorf("error decoding payment request cbor: %v", err)
	}
	return &request, nil
}
