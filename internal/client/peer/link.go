package peer

import (
	"sync"

	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/pion/webrtc/v4"
)

type LinkState int

const (
	StateIdle LinkState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswered
	StateConnected
	StateFailed
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s LinkState) final() bool { return s == StateFailed || s == StateClosed }

// Link is the negotiated media channel to one remote participant.
type Link struct {
	Remote domain.UserID
	conn   core.MediaConnection

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	attached  map[string]struct{}
	restarted bool
	// local track set or remote request changed while an offer was in flight
	dirty bool
	// media sections per kind the remote asked room for
	want map[webrtc.RTPCodecType]int
}

func newLink(remote domain.UserID, conn core.MediaConnection) *Link {
	return &Link{
		Remote:   remote,
		conn:     conn,
		attached: make(map[string]struct{}),
	}
}

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// flushPending applies buffered candidates in arrival order. Caller holds mu.
func (l *Link) flushPending() error {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.conn.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// syncTracks attaches local tracks the link lacks and detaches the ones no
// longer published. Caller holds mu.
func (l *Link) syncTracks(local map[string]webrtc.TrackLocal) error {
	for id, track := range local {
		if _, ok := l.attached[id]; ok {
			continue
		}
		if err := l.conn.AddLocalTrack(track); err != nil {
			return err
		}
		l.attached[id] = struct{}{}
	}
	for id := range l.attached {
		if _, ok := local[id]; ok {
			continue
		}
		if err := l.conn.RemoveLocalTrack(id); err != nil {
			return err
		}
		delete(l.attached, id)
	}
	return nil
}

// inSync reports whether exactly the local tracks are attached. Caller holds mu.
func (l *Link) inSync(local map[string]webrtc.TrackLocal) bool {
	if len(local) != len(l.attached) {
		return false
	}
	for id := range local {
		if _, ok := l.attached[id]; !ok {
			return false
		}
	}
	return true
}
