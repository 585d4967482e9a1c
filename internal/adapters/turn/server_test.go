package turn

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Jam/internal/adapters/rtc"
	"github.com/rs/zerolog"
)

func TestListenRequiresIP(t *testing.T) {
	_, err := Listen(Options{PublicIP: "nope"}, rtc.NewPionLogger(zerolog.Disabled))
	if !errors.Is(err, ErrNoPublicIP) {
		t.Errorf("expected ErrNoPublicIP, got %v", err)
	}
}

func TestICEServers(t *testing.T) {
	stun := []string{"stun:stun.example.org:3478"}
	if got := ICEServers(stun, nil)("u"); len(got) != 1 || got[0].Username != "" {
		t.Errorf("without a relay only STUN is offered, got %+v", got)
	}

	relay, err := Listen(Options{PublicIP: "127.0.0.1", Port: 0, Realm: "jam", Secret: "shh", TTL: time.Hour}, rtc.NewPionLogger(zerolog.Disabled))
	if err != nil {
		t.Fatal(err)
	}
	defer relay.Close()

	got := ICEServers(stun, relay)("u")
	if len(got) != 2 {
		t.Fatalf("expected STUN and TURN, got %+v", got)
	}
	turnEntry := got[1]
	if !strings.HasPrefix(turnEntry.URLs[0], "turn:127.0.0.1:") || turnEntry.Credential == "" {
		t.Errorf("unexpected TURN entry %+v", turnEntry)
	}
	expires, err := strconv.ParseInt(turnEntry.Username, 10, 64)
	if err != nil {
		t.Fatalf("username should be an expiry timestamp: %v", err)
	}
	if until := time.Until(time.Unix(expires, 0)); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("credentials should live for the ttl, got %v", until)
	}
}
