package authn

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidTicket is returned when a stored ticket cannot be decoded.
var ErrInvalidTicket = errors.New("authn: invalid ticket")

// ticket is the serialized form of a session: the principal and its
// properties stored as one value so that a session is written atomically.
type ticket struct {
	Principal  *Principal  `json:"p"`
	Properties *Properties `json:"props"`
}

// EncodeTicket serializes a principal and its properties.
func EncodeTicket(p *Principal, props *Properties) (string, error) {
	b, err := json.Marshal(ticket{Principal: p, Properties: props})
	if err != nil {
		return "", fmt.Errorf("encode ticket: %w", err)
	}
	return string(b), nil
}

// DecodeTicket parses a value produced by EncodeTicket.
func DecodeTicket(s string) (*Principal, *Properties, error) {
	var t ticket
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if t.Principal == nil {
		return nil, nil, ErrInvalidTicket
	}
	if t.Properties == nil {
		t.Properties = &Properties{}
	}
	return t.Principal, t.Properties, nil
}
