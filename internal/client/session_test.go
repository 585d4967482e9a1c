package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	wsignal "github.com/dkeye/Jam/internal/adapters/signal"
	"github.com/dkeye/Jam/internal/app/orch"
	"github.com/dkeye/Jam/internal/client/peer"
	"github.com/dkeye/Jam/internal/client/signaling"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// loopConn is a MediaConnection that only tracks the offer/answer state.
type loopConn struct {
	mu        sync.Mutex
	signaling webrtc.SignalingState
	closed    bool
}

func (c *loopConn) CreateOffer(bool) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}, nil
}

func (c *loopConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}, nil
}

func (c *loopConn) set(sd webrtc.SessionDescription, local bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case sd.Type == webrtc.SDPTypeOffer && local:
		c.signaling = webrtc.SignalingStateHaveLocalOffer
	case sd.Type == webrtc.SDPTypeOffer:
		c.signaling = webrtc.SignalingStateHaveRemoteOffer
	default:
		c.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (c *loopConn) SetLocalDescription(sd webrtc.SessionDescription) error  { return c.set(sd, true) }
func (c *loopConn) SetRemoteDescription(sd webrtc.SessionDescription) error { return c.set(sd, false) }
func (c *loopConn) AddICECandidate(webrtc.ICECandidateInit) error           { return nil }
func (c *loopConn) AddLocalTrack(webrtc.TrackLocal) error                   { return nil }
func (c *loopConn) RemoveLocalTrack(string) error                           { return nil }
func (c *loopConn) EnsureReceivers(webrtc.RTPCodecType, int) error          { return nil }
func (c *loopConn) OnICECandidate(func(webrtc.ICECandidateInit))            {}
func (c *loopConn) OnTrack(func(core.RemoteTrack))                          {}
func (c *loopConn) OnStateChange(func(webrtc.PeerConnectionState))          {}

func (c *loopConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signaling == webrtc.SignalingStateUnknown {
		return webrtc.SignalingStateStable
	}
	return c.signaling
}

func (c *loopConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func loopConnector([]protocol.ICEServer) (peer.Factory, error) {
	return func(domain.UserID) (core.MediaConnection, error) { return &loopConn{}, nil }, nil
}

func newServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := wsignal.NewSignalWSController(orch.New(orch.Orchestrator{}), wsignal.Options{})
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		id := c.Query("user")
		c.Set(wsignal.UserKey, &domain.User{ID: domain.UserID(id), DisplayName: id})
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func start(t *testing.T, ctx context.Context, url, user string, pos domain.Vec3, onChat func(*protocol.ChatMessage)) (*Session, <-chan error) {
	t.Helper()
	tr, err := signaling.Dial(ctx, url+"?user="+user, signaling.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	s := NewSession(tr, loopConnector, Options{
		Room:         "R",
		Position:     pos,
		Radius:       5,
		Tick:         10 * time.Millisecond,
		Debounce:     10 * time.Millisecond,
		PublishAudio: true,
		OnChat:       onChat,
	})
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never joined", user)
	}
	return s, done
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func linkState(s *Session, remote domain.UserID) peer.LinkState {
	st, _ := s.Peers().State(remote)
	return st
}

func TestTwoParticipants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := newServer(t)

	got := make(chan *protocol.ChatMessage, 4)
	alice, _ := start(t, ctx, url, "alice", domain.Vec3{0, 0, 0}, nil)
	bob, bobDone := start(t, ctx, url, "bob", domain.Vec3{3, 0, 0}, func(m *protocol.ChatMessage) { got <- m })

	eventually(t, "negotiated", func() bool {
		return linkState(bob, "alice") == peer.StateAnswered && linkState(alice, "bob") == peer.StateAnswered
	})
	eventually(t, "alice hears bob", func() bool {
		l, ok := alice.Mixer().Level("bob")
		return ok && l.Audible && l.Volume > 0.5 && l.Volume < 0.55
	})

	if err := alice.Say("psst", true); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		if m.Text != "psst" || m.Scope != domain.ChatNearby || m.SenderID != "alice" {
			t.Errorf("unexpected chat %+v", m.ChatEnvelope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bob did not get the nearby chat")
	}

	if err := bob.Move(domain.Vec3{20, 0, 0}, domain.Vec3{}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "bob out of range", func() bool {
		l, ok := alice.Mixer().Level("bob")
		return ok && !l.Audible
	})
	if st := linkState(alice, "bob"); st != peer.StateAnswered {
		t.Errorf("moving must not touch the link, got %v", st)
	}

	cancel()
	<-bobDone
}

func TestLeaveDropsLink(t *testing.T) {
	ctx := context.Background()
	url := newServer(t)

	alice, _ := start(t, ctx, url, "alice", domain.Vec3{}, nil)
	bobCtx, bobCancel := context.WithCancel(ctx)
	bob, bobDone := start(t, bobCtx, url, "bob", domain.Vec3{1, 0, 0}, nil)

	eventually(t, "negotiated", func() bool { return linkState(bob, "alice") == peer.StateAnswered })
	bobCancel()
	<-bobDone
	eventually(t, "link dropped", func() bool {
		_, ok := alice.Peers().State("bob")
		return !ok
	})
	if _, ok := alice.Mixer().Level("bob"); ok {
		t.Error("mixer still tracks bob")
	}
}
