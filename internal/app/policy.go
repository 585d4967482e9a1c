package app

import (
	"fmt"

	"github.com/dkeye/Jam/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy applies the same action to every slow member.
type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return p.Action
}

// PolicyFor maps the backpressure config value to a policy.
func PolicyFor(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{Action: KickMember}, nil
	case "drop":
		return SimplePolicy{Action: DropFrame}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
