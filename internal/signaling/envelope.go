package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope is the unit exchanged over the signaling channel.
//
// Payload is kept raw so a forwarded envelope reaches its target exactly as
// the sender wrote it. ID is only set on the server-originated "connected"
// envelope.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	TypeConnected  = "connected"
	TypeCall       = "call"
	TypeDisconnect = "disconnect"

	// Negotiation envelopes are routed like TypeCall.
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeHangup       = "hangup"
)

// CallPayload is the payload of a TypeCall envelope.
type CallPayload struct {
	CallerID string `json:"callerId"`
	Message  string `json:"message"`
}

var ErrMalformed = errors.New("signaling: malformed envelope")

// DecodeEnvelope parses one inbound message. Anything without a type is
// malformed.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// NewConnected builds the greeting sent to a freshly accepted connection.
func NewConnected(id string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeConnected, ID: id})
}

// NewCall builds a call-initiation envelope addressed to target.
func NewCall(target, callerID string) (Envelope, error) {
	p, err := json.Marshal(CallPayload{CallerID: callerID, Message: "Incoming call from " + callerID})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeCall, Target: target, Payload: p}, nil
}

// DecodeCall decodes the payload of a call envelope.
func (e Envelope) DecodeCall() (CallPayload, error) {
	var p CallPayload
	if len(e.Payload) == 0 {
		return p, fmt.Errorf("%w: empty call payload", ErrMalformed)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// routable reports whether envelopes of this type are forwarded to Target.
// Server-originated and registry-directed types never are.
func routable(envType string) bool {
	switch envType {
	case TypeConnected, TypeDisconnect:
		return false
	default:
		return true
	}
}

// typeLabel bounds metric label values to the known envelope types.
func typeLabel(envType string) string {
	switch envType {
	case TypeConnected, TypeCall, TypeDisconnect, TypeOffer, TypeAnswer, TypeICECandidate, TypeHangup:
		return envType
	default:
		return "other"
	}
}
