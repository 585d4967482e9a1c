package domain

import "encoding/json"

type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	// SignalRenegotiate asks the offering side of a link for a fresh offer.
	SignalRenegotiate SignalType = "renegotiate"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalRenegotiate:
		return true
	}
	return false
}

// SignalEnvelope is relayed verbatim; Payload is never parsed by the server.
type SignalEnvelope struct {
	Type     SignalType      `json:"type"`
	SenderID UserID          `json:"senderId"`
	TargetID UserID          `json:"targetId"`
	Payload  json.RawMessage `json:"payload"`
}
