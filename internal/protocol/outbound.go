package protocol

import (
	"encoding/json"

	"github.com/dkeye/Jam/internal/domain"
)

// Outbound is the closed set of messages the coordinator emits.
type Outbound interface {
	Message
	outbound()
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type Welcome struct {
	Header
	User       domain.User `json:"user"`
	ICEServers []ICEServer `json:"iceServers,omitempty"`
}

type MemberJoined struct {
	Header
	Member domain.Presence `json:"member"`
}

type CurrentMembers struct {
	Header
	RoomID  domain.RoomID     `json:"roomId"`
	Members []domain.Presence `json:"members"`
}

type MemberMoved struct {
	Header
	UserID   domain.UserID `json:"userId"`
	Position domain.Vec3   `json:"position"`
	Rotation domain.Vec3   `json:"rotation"`
}

type MemberLeft struct {
	Header
	UserID domain.UserID `json:"userId"`
}

type NoticeKind string

const (
	NoticeJoined NoticeKind = "joined"
	NoticeLeft   NoticeKind = "left"
)

type SystemNotice struct {
	Header
	Notice      NoticeKind    `json:"kind"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

type ChatMessage struct {
	Header
	domain.ChatEnvelope
}

type SignalRelay struct {
	Header
	Signal   domain.SignalType `json:"signal"`
	SenderID domain.UserID     `json:"senderId"`
	Payload  json.RawMessage   `json:"payload"`
}

type TargetUnavailable struct {
	Header
	TargetID domain.UserID `json:"targetId"`
}

type Pong struct {
	Header
}

func (*Welcome) Kind() Kind           { return KindWelcome }
func (*MemberJoined) Kind() Kind      { return KindMemberJoined }
func (*CurrentMembers) Kind() Kind    { return KindCurrentMembers }
func (*MemberMoved) Kind() Kind       { return KindMemberMoved }
func (*MemberLeft) Kind() Kind        { return KindMemberLeft }
func (*SystemNotice) Kind() Kind      { return KindSystemNotice }
func (*ChatMessage) Kind() Kind       { return KindChat }
func (*SignalRelay) Kind() Kind       { return KindSignal }
func (*TargetUnavailable) Kind() Kind { return KindTargetUnavailable }
func (*Pong) Kind() Kind              { return KindPong }

func (m *Welcome) stamp()           { m.set(KindWelcome) }
func (m *MemberJoined) stamp()      { m.set(KindMemberJoined) }
func (m *CurrentMembers) stamp()    { m.set(KindCurrentMembers) }
func (m *MemberMoved) stamp()       { m.set(KindMemberMoved) }
func (m *MemberLeft) stamp()        { m.set(KindMemberLeft) }
func (m *SystemNotice) stamp()      { m.set(KindSystemNotice) }
func (m *ChatMessage) stamp()       { m.set(KindChat) }
func (m *SignalRelay) stamp()       { m.set(KindSignal) }
func (m *TargetUnavailable) stamp() { m.set(KindTargetUnavailable) }
func (m *Pong) stamp()              { m.set(KindPong) }

func (*Welcome) outbound()           {}
func (*MemberJoined) outbound()      {}
func (*CurrentMembers) outbound()    {}
func (*MemberMoved) outbound()       {}
func (*MemberLeft) outbound()        {}
func (*SystemNotice) outbound()      {}
func (*ChatMessage) outbound()       {}
func (*SignalRelay) outbound()       {}
func (*TargetUnavailable) outbound() {}
func (*Pong) outbound()              {}

var outboundKinds = map[Kind]func() Outbound{
	KindWelcome:           func() Outbound { return new(Welcome) },
	KindMemberJoined:      func() Outbound { return new(MemberJoined) },
	KindCurrentMembers:    func() Outbound { return new(CurrentMembers) },
	KindMemberMoved:       func() Outbound { return new(MemberMoved) },
	KindMemberLeft:        func() Outbound { return new(MemberLeft) },
	KindSystemNotice:      func() Outbound { return new(SystemNotice) },
	KindChat:              func() Outbound { return new(ChatMessage) },
	KindSignal:            func() Outbound { return new(SignalRelay) },
	KindTargetUnavailable: func() Outbound { return new(TargetUnavailable) },
	KindPong:              func() Outbound { return new(Pong) },
}

// DecodeOutbound parses one coordinator frame on the client side.
func DecodeOutbound(data []byte) (Outbound, error) { return decode(data, outboundKinds) }
