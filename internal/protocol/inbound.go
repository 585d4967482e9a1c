package protocol

import (
	"encoding/json"

	"github.com/dkeye/Jam/internal/domain"
)

// Inbound is the closed set of messages a client may send.
type Inbound interface {
	Message
	inbound()
}

type Join struct {
	Header
	RoomID      domain.RoomID `json:"roomId" validate:"required,max=64"`
	DisplayName string        `json:"displayName,omitempty" validate:"omitempty,max=36"`
	Avatar      string        `json:"avatar,omitempty" validate:"max=512"`
	Position    domain.Vec3   `json:"position"`
	Rotation    domain.Vec3   `json:"rotation"`
}

type Move struct {
	Header
	Position domain.Vec3 `json:"position"`
	Rotation domain.Vec3 `json:"rotation"`
}

type Leave struct {
	Header
	RoomID domain.RoomID `json:"roomId,omitempty" validate:"max=64"`
}

type Chat struct {
	Header
	Text       string           `json:"text" validate:"required"`
	Scope      domain.ChatScope `json:"scope" validate:"required,oneof=global nearby"`
	Recipients []domain.UserID  `json:"recipients,omitempty" validate:"max=256"`
}

type Signal struct {
	Header
	Signal   domain.SignalType `json:"signal" validate:"required,oneof=offer answer ice-candidate renegotiate"`
	TargetID domain.UserID     `json:"targetId" validate:"required,max=64"`
	Payload  json.RawMessage   `json:"payload" validate:"required"`
}

type Ping struct {
	Header
}

func (*Join) Kind() Kind   { return KindJoin }
func (*Move) Kind() Kind   { return KindMove }
func (*Leave) Kind() Kind  { return KindLeave }
func (*Chat) Kind() Kind   { return KindChat }
func (*Signal) Kind() Kind { return KindSignal }
func (*Ping) Kind() Kind   { return KindPing }

func (m *Join) stamp()   { m.set(KindJoin) }
func (m *Move) stamp()   { m.set(KindMove) }
func (m *Leave) stamp()  { m.set(KindLeave) }
func (m *Chat) stamp()   { m.set(KindChat) }
func (m *Signal) stamp() { m.set(KindSignal) }
func (m *Ping) stamp()   { m.set(KindPing) }

func (*Join) inbound()   {}
func (*Move) inbound()   {}
func (*Leave) inbound()  {}
func (*Chat) inbound()   {}
func (*Signal) inbound() {}
func (*Ping) inbound()   {}

var inboundKinds = map[Kind]func() Inbound{
	KindJoin:   func() Inbound { return new(Join) },
	KindMove:   func() Inbound { return new(Move) },
	KindLeave:  func() Inbound { return new(Leave) },
	KindChat:   func() Inbound { return new(Chat) },
	KindSignal: func() Inbound { return new(Signal) },
	KindPing:   func() Inbound { return new(Ping) },
}

// DecodeInbound parses and validates one client frame.
func DecodeInbound(data []byte) (Inbound, error) { return decode(data, inboundKinds) }
