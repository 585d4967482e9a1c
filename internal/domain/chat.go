package domain

import "time"

type ChatScope string

const (
	ChatGlobal ChatScope = "global"
	ChatNearby ChatScope = "nearby"
	ChatSelf   ChatScope = "self"
)

func (s ChatScope) Valid() bool {
	switch s {
	case ChatGlobal, ChatNearby, ChatSelf:
		return true
	}
	return false
}

// ChatEnvelope is transient; the core never stores it.
type ChatEnvelope struct {
	RoomID     RoomID    `json:"roomId"`
	SenderID   UserID    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Scope      ChatScope `json:"scope"`
	Recipients []UserID  `json:"recipients,omitempty"`
}

// WithScope returns a copy of the envelope re-scoped for a delivery.
func (c ChatEnvelope) WithScope(s ChatScope) ChatEnvelope {
	c.Scope = s
	return c
}
