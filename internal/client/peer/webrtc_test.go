package peer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Jam/internal/adapters/rtc"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type envelope struct {
	t       domain.SignalType
	payload []byte
}

// relay carries one side's signals to the other in order, the way the
// coordinator socket does.
type relay struct {
	from domain.UserID
	to   *Manager
	q    chan envelope
	done chan struct{}
	busy atomic.Int32

	mu      sync.Mutex
	sent    []domain.SignalType
	errs    []error
	answers []webrtc.SessionDescription
}

func newRelay(from domain.UserID, done chan struct{}) *relay {
	return &relay{from: from, q: make(chan envelope, 256), done: done}
}

func (r *relay) Signal(t domain.SignalType, _ domain.UserID, payload []byte) error {
	r.busy.Add(1)
	select {
	case r.q <- envelope{t: t, payload: payload}:
	case <-r.done:
		r.busy.Add(-1)
	}
	return nil
}

func (r *relay) run() {
	for {
		select {
		case <-r.done:
			return
		case e := <-r.q:
			err := r.to.HandleSignal(r.from, e.t, e.payload)
			r.mu.Lock()
			r.sent = append(r.sent, e.t)
			if err != nil && e.t != domain.SignalICECandidate {
				r.errs = append(r.errs, fmt.Errorf("%s from %s: %w", e.t, r.from, err))
			}
			if e.t == domain.SignalAnswer {
				var sd webrtc.SessionDescription
				if json.Unmarshal(e.payload, &sd) == nil {
					r.answers = append(r.answers, sd)
				}
			}
			r.mu.Unlock()
			r.busy.Add(-1)
		}
	}
}

type side struct {
	id     domain.UserID
	remote domain.UserID
	m      *Manager
	out    *relay

	mu   sync.Mutex
	conn *rtc.WebRTCConnection
}

func newSide(t *testing.T, api *rtc.API, id, remote domain.UserID, done chan struct{}) *side {
	t.Helper()
	s := &side{id: id, remote: remote, out: newRelay(id, done)}
	s.m = NewManager(Config{
		Self:     id,
		Signaler: s.out,
		Debounce: time.Hour,
		Connect: func(remote domain.UserID) (core.MediaConnection, error) {
			c, err := api.NewConnection(remote)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.conn = c
			s.mu.Unlock()
			return c, nil
		},
	})
	return s
}

func (s *side) settled() bool {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil || s.out.busy.Load() != 0 || c.SignalingState() != webrtc.SignalingStateStable {
		return false
	}
	st, ok := s.m.State(s.remote)
	return ok && (st == StateAnswered || st == StateConnected)
}

func waitSettled(t *testing.T, sides ...*side) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		done := true
		for _, s := range sides {
			done = done && s.settled()
		}
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("negotiation did not settle")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConcurrentRenegotiationOverWebRTC(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}
	api, err := rtc.NewAPI(webrtc.Configuration{}, rtc.NewPionLogger(zerolog.Disabled))
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	bob := newSide(t, api, "bob", "alice", done)
	alice := newSide(t, api, "alice", "bob", done)
	bob.out.to, alice.out.to = alice.m, bob.m
	go bob.out.run()
	go alice.out.run()
	t.Cleanup(func() {
		bob.m.Close()
		alice.m.Close()
		close(done)
	})

	bob.m.AddLocalTrack(audioTrack(t, "bob-mic"))
	alice.m.AddLocalTrack(audioTrack(t, "alice-mic"))
	bob.m.Discover("alice")
	alice.m.Discover("bob")
	waitSettled(t, bob, alice)

	bob.m.AddLocalTrack(videoTrack(t, "bob-cam"))
	alice.m.AddLocalTrack(videoTrack(t, "alice-cam"))
	var wg sync.WaitGroup
	for _, s := range []*side{bob, alice} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.m.Renegotiate(); err != nil {
				t.Errorf("%s: %v", s.id, err)
			}
		}()
	}
	wg.Wait()
	waitSettled(t, bob, alice)

	for _, r := range []*relay{bob.out, alice.out} {
		r.mu.Lock()
		for _, err := range r.errs {
			t.Error(err)
		}
		r.mu.Unlock()
	}

	alice.out.mu.Lock()
	sent := append([]domain.SignalType(nil), alice.out.sent...)
	answers := append([]webrtc.SessionDescription(nil), alice.out.answers...)
	alice.out.mu.Unlock()
	for _, st := range sent {
		if st == domain.SignalOffer {
			t.Fatalf("alice offered: %v", sent)
		}
	}
	if len(answers) == 0 {
		t.Fatal("alice never answered")
	}
	parsed, err := answers[len(answers)-1].Unmarshal()
	if err != nil {
		t.Fatal(err)
	}
	both := map[string]int{}
	for _, md := range parsed.MediaDescriptions {
		if _, ok := md.Attribute("sendrecv"); ok {
			both[md.MediaName.Media]++
		}
	}
	if both["audio"] != 1 || both["video"] != 1 {
		t.Errorf("expected audio and video flowing both ways, got %v\n%s", both, answers[len(answers)-1].SDP)
	}
}
