// Package protocol is the wire format spoken over the signaling socket:
// one JSON object per text frame, discriminated by its "type" field.
package protocol

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

type Kind string

// inbound (client -> coordinator)
const (
	KindJoin   Kind = "join"
	KindMove   Kind = "move"
	KindLeave  Kind = "leave"
	KindChat   Kind = "chat"
	KindSignal Kind = "signal"
	KindPing   Kind = "ping"
)

// outbound (coordinator -> client); chat and signal reuse the inbound names
const (
	KindWelcome           Kind = "welcome"
	KindMemberJoined      Kind = "member-joined"
	KindCurrentMembers    Kind = "current-members"
	KindMemberMoved       Kind = "member-moved"
	KindMemberLeft        Kind = "member-left"
	KindSystemNotice      Kind = "system-notice"
	KindTargetUnavailable Kind = "target-unavailable"
	KindPong              Kind = "pong"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
	ErrInvalid     = errors.New("invalid message")
)

// Message is anything that can travel over the socket.
type Message interface {
	Kind() Kind
	stamp()
}

// Header carries the discriminator; every message embeds it.
type Header struct {
	Type Kind `json:"type"`
}

func (h *Header) set(k Kind) { h.Type = k }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Encode stamps the discriminator and marshals m.
func Encode(m Message) ([]byte, error) {
	m.stamp()
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return b, nil
}

func decode[T Message](data []byte, kinds map[Kind]func() T) (T, error) {
	var zero T
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mk, ok := kinds[h.Type]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUnknownKind, h.Type)
	}
	m := mk()
	if err := json.Unmarshal(data, m); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
	}
	if err := validate.Struct(m); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrInvalid, h.Type, err)
	}
	return m, nil
}
