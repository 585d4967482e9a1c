package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Jam/internal/domain"
)

func TestRegistryTransitions(t *testing.T) {
	r := NewRegistry()
	user := &domain.User{ID: "u", DisplayName: "U"}
	ctx, cancel := context.WithCancel(context.Background())

	s := r.Bind("s", user, &fakeConn{}, cancel)
	if s.State != StateConnected {
		t.Fatalf("expected connected, got %v", s.State)
	}
	if _, ok := r.ExitRoom("s"); ok {
		t.Error("exit without a room must be ignored")
	}
	if !r.EnterRoom("s", "R") {
		t.Fatal("enter from connected should succeed")
	}
	if r.EnterRoom("s", "R2") {
		t.Error("enter while in a room must be ignored")
	}
	if s, _ := r.Get("s"); s.State != StateInRoom || s.Room != "R" {
		t.Errorf("unexpected session %+v", s)
	}
	if room, ok := r.ExitRoom("s"); !ok || room != "R" {
		t.Errorf("expected to leave R, got %v %v", room, ok)
	}
	if counts := r.Count(); counts[StateConnected] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	if !r.Cancel("s") {
		t.Fatal("cancel of a live session should succeed")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel func was not called")
	}

	last, ok := r.Unbind("s")
	if !ok || last.State != StateConnected || last.User != user {
		t.Errorf("unexpected last state %+v", last)
	}
	if _, ok := r.Get("s"); ok {
		t.Error("unbound session still present")
	}
	if _, ok := r.Unbind("s"); ok {
		t.Error("double unbind should report false")
	}
}

func TestRegistryUnauthenticated(t *testing.T) {
	r := NewRegistry()
	s := r.Bind("s", nil, &fakeConn{}, nil)
	if s.State != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", s.State)
	}
	if r.EnterRoom("s", "R") {
		t.Error("unauthenticated connection must not enter a room")
	}
	if !r.Cancel("s") {
		t.Error("cancel without a func should still report the session")
	}
}

func TestPolicyFor(t *testing.T) {
	for name, want := range map[string]BackpressureAction{"": KickMember, "kick": KickMember, "drop": DropFrame} {
		p, err := PolicyFor(name)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.OnBackPressure(nil, nil); got != want {
			t.Errorf("%q: expected %v, got %v", name, want, got)
		}
	}
	if _, err := PolicyFor("ignore"); err == nil {
		t.Error("unknown policy should fail")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u") || !rl.Allow("u") {
		t.Fatal("first two hits should pass")
	}
	if rl.Allow("u") {
		t.Error("third hit inside the window should be refused")
	}
	if !rl.Allow("other") {
		t.Error("users are limited independently")
	}
	now = now.Add(11 * time.Second)
	if !rl.Allow("u") {
		t.Error("hit after the window should pass")
	}
	rl.Forget("u")
	if !rl.Allow("u") || !rl.Allow("u") {
		t.Error("forgotten user starts with a clean window")
	}
}
