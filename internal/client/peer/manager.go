// Package peer keeps one WebRTC link per remote participant and negotiates
// it over the signaling relay.
package peer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const DefaultDebounce = 150 * time.Millisecond

var (
	ErrNoLink     = errors.New("no link to remote")
	ErrLinkClosed = errors.New("link closed")
)

// Signaler delivers a signaling payload to one remote through the relay.
type Signaler interface {
	Signal(t domain.SignalType, target domain.UserID, payload []byte) error
}

// Factory opens the media connection backing a new link.
type Factory func(remote domain.UserID) (core.MediaConnection, error)

// TrackSink receives remote tracks; *media.Sinks implements it.
type TrackSink interface {
	AddTrack(remote domain.UserID, track core.RemoteTrack)
	Release(remote domain.UserID)
}

type Config struct {
	Self     domain.UserID
	Signaler Signaler
	Connect  Factory
	Sinks    TrackSink
	// Debounce coalesces bursts of local track changes into one
	// renegotiation pass.
	Debounce time.Duration
}

type Manager struct {
	cfg Config

	mu     sync.Mutex
	links  map[domain.UserID]*Link
	local  map[string]webrtc.TrackLocal
	timer  *time.Timer
	closed bool
}

func NewManager(cfg Config) *Manager {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Manager{
		cfg:   cfg,
		links: make(map[domain.UserID]*Link),
		local: make(map[string]webrtc.TrackLocal),
	}
}

// State reports the state of the link to remote.
func (m *Manager) State(remote domain.UserID) (LinkState, bool) {
	m.mu.Lock()
	l, ok := m.links[remote]
	m.mu.Unlock()
	if !ok {
		return StateIdle, false
	}
	return l.State(), true
}

func (m *Manager) Links() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserID, 0, len(m.links))
	for uid := range m.links {
		out = append(out, uid)
	}
	return out
}

// Discover opens links to newly seen participants. Of each pair only the
// side with the greater id ever offers; it sends the first offer when it
// publishes something. The lesser side asks for an offer when it has tracks
// of its own.
func (m *Manager) Discover(remotes ...domain.UserID) {
	for _, remote := range remotes {
		if remote == m.cfg.Self || remote == "" {
			continue
		}
		l, created, err := m.ensure(remote)
		if err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("open link")
			continue
		}
		if !created || !m.publishing() {
			continue
		}
		if err := m.negotiate(l, false, true); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("initial negotiation")
		}
	}
}

// offers reports whether this side owns the offers of the link to remote.
func (m *Manager) offers(remote domain.UserID) bool { return m.cfg.Self > remote }

func (m *Manager) publishing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.local) > 0
}

func (m *Manager) ensure(remote domain.UserID) (*Link, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrLinkClosed
	}
	if l, ok := m.links[remote]; ok {
		return l, false, nil
	}
	conn, err := m.cfg.Connect(remote)
	if err != nil {
		return nil, false, fmt.Errorf("connect %s: %w", remote, err)
	}
	l := newLink(remote, conn)
	m.links[remote] = l
	m.wire(l)
	log.Debug().Str("module", "peer").Str("remote", string(remote)).Msg("link opened")
	return l, true, nil
}

func (m *Manager) wire(l *Link) {
	remote := l.Remote
	l.conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		payload, err := json.Marshal(c)
		if err != nil {
			return
		}
		if err := m.cfg.Signaler.Signal(domain.SignalICECandidate, remote, payload); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("send candidate")
		}
	})
	l.conn.OnTrack(func(track core.RemoteTrack) {
		if m.cfg.Sinks != nil {
			m.cfg.Sinks.AddTrack(remote, track)
		}
	})
	l.conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		m.onState(l, s)
	})
}

func (m *Manager) get(remote domain.UserID) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	return l, ok
}

func (m *Manager) localSnapshot() map[string]webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]webrtc.TrackLocal, len(m.local))
	for id, t := range m.local {
		out[id] = t
	}
	return out
}

// negotiate brings the link's senders in line with the local track set and
// sends a fresh offer. Without force a link already carrying exactly the
// local tracks is left alone. On the answering side of a link it asks the
// remote for an offer instead.
func (m *Manager) negotiate(l *Link, iceRestart, force bool) error {
	local := m.localSnapshot()
	if !m.offers(l.Remote) {
		return m.request(l, local, force)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.final() {
		return ErrLinkClosed
	}
	if l.state == StateIdle && len(local) == 0 && len(l.want) == 0 && !iceRestart {
		return nil
	}
	if !force && !l.dirty && l.inSync(local) {
		return nil
	}
	if l.conn.SignalingState() != webrtc.SignalingStateStable {
		l.dirty = true
		return nil
	}
	l.dirty = false
	if err := l.syncTracks(local); err != nil {
		return fmt.Errorf("sync tracks: %w", err)
	}
	for kind, n := range l.want {
		if err := l.conn.EnsureReceivers(kind, n); err != nil {
			return fmt.Errorf("receivers: %w", err)
		}
	}
	offer, err := l.conn.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	l.state = StateOfferSent
	return m.send(domain.SignalOffer, l.Remote, offer)
}

// request asks the offering side for an offer with room for every local
// track. The tracks themselves are attached when that offer is answered.
func (m *Manager) request(l *Link, local map[string]webrtc.TrackLocal, force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.final() {
		return ErrLinkClosed
	}
	if !force && l.inSync(local) {
		return nil
	}
	return m.send(domain.SignalRenegotiate, l.Remote, kindCounts(local))
}

func kindCounts(local map[string]webrtc.TrackLocal) map[string]int {
	out := make(map[string]int)
	for _, t := range local {
		out[t.Kind().String()]++
	}
	return out
}

func (m *Manager) send(t domain.SignalType, remote domain.UserID, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.cfg.Signaler.Signal(t, remote, payload)
}

// HandleSignal applies one relayed signaling message from sender.
func (m *Manager) HandleSignal(sender domain.UserID, t domain.SignalType, payload []byte) error {
	switch t {
	case domain.SignalOffer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return fmt.Errorf("offer from %s: %w", sender, err)
		}
		l, _, err := m.ensure(sender)
		if err != nil {
			return err
		}
		return m.handleOffer(l, sd)
	case domain.SignalAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return fmt.Errorf("answer from %s: %w", sender, err)
		}
		l, ok := m.get(sender)
		if !ok {
			return ErrNoLink
		}
		return m.handleAnswer(l, sd)
	case domain.SignalICECandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("candidate from %s: %w", sender, err)
		}
		l, ok := m.get(sender)
		if !ok {
			return ErrNoLink
		}
		return m.handleCandidate(l, c)
	case domain.SignalRenegotiate:
		var counts map[string]int
		if err := json.Unmarshal(payload, &counts); err != nil {
			return fmt.Errorf("renegotiate from %s: %w", sender, err)
		}
		if !m.offers(sender) {
			log.Debug().Str("module", "peer").Str("remote", string(sender)).Msg("renegotiation request from offering side ignored")
			return nil
		}
		l, _, err := m.ensure(sender)
		if err != nil {
			return err
		}
		return m.handleRequest(l, counts)
	}
	return fmt.Errorf("unknown signal %q", t)
}

func (m *Manager) handleOffer(l *Link, offer webrtc.SessionDescription) error {
	local := m.localSnapshot()
	short, err := m.answer(l, offer, local)
	if err != nil || !short {
		return err
	}
	// the offer had no room for some of our tracks
	return m.negotiate(l, false, true)
}

func (m *Manager) answer(l *Link, offer webrtc.SessionDescription, local map[string]webrtc.TrackLocal) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.final() {
		return false, ErrLinkClosed
	}
	if st := l.conn.SignalingState(); st != webrtc.SignalingStateStable {
		log.Debug().Str("module", "peer").Str("remote", string(l.Remote)).Str("signaling", st.String()).Msg("offer collides with ours, ignored")
		return false, nil
	}
	l.state = StateOfferReceived
	if err := l.conn.SetRemoteDescription(offer); err != nil {
		return false, fmt.Errorf("set remote offer: %w", err)
	}
	l.remoteSet = true
	if err := l.flushPending(); err != nil {
		return false, fmt.Errorf("apply candidates: %w", err)
	}
	if err := l.syncTracks(local); err != nil {
		return false, fmt.Errorf("sync tracks: %w", err)
	}
	answer, err := l.conn.CreateAnswer()
	if err != nil {
		return false, fmt.Errorf("create answer: %w", err)
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		return false, fmt.Errorf("set local answer: %w", err)
	}
	l.state = StateAnswered
	if err := m.send(domain.SignalAnswer, l.Remote, answer); err != nil {
		return false, err
	}
	return lacksRoom(offer, local), nil
}

// handleRequest records the media the remote wants to send and offers room
// for it, right away or once the offer in flight is answered.
func (m *Manager) handleRequest(l *Link, counts map[string]int) error {
	want := make(map[webrtc.RTPCodecType]int, len(counts))
	for name, n := range counts {
		if kind := webrtc.NewRTPCodecType(name); kind != 0 && n > 0 {
			want[kind] = n
		}
	}
	l.mu.Lock()
	l.want = want
	l.mu.Unlock()
	return m.negotiate(l, false, true)
}

// lacksRoom reports whether offer carries fewer media sections of some kind
// than we publish, so the offering side must be asked for more.
func lacksRoom(offer webrtc.SessionDescription, local map[string]webrtc.TrackLocal) bool {
	parsed, err := offer.Unmarshal()
	if err != nil {
		return false
	}
	offered := make(map[string]int)
	for _, md := range parsed.MediaDescriptions {
		offered[md.MediaName.Media]++
	}
	for kind, n := range kindCounts(local) {
		if n > offered[kind] {
			return true
		}
	}
	return false
}

func (m *Manager) handleAnswer(l *Link, answer webrtc.SessionDescription) error {
	l.mu.Lock()
	if st := l.state; st != StateOfferSent {
		l.mu.Unlock()
		log.Debug().Str("module", "peer").Str("remote", string(l.Remote)).Str("state", st.String()).Msg("stale answer ignored")
		return nil
	}
	if err := l.conn.SetRemoteDescription(answer); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.remoteSet = true
	l.state = StateAnswered
	err := l.flushPending()
	dirty := l.dirty
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("apply candidates: %w", err)
	}
	if dirty {
		return m.negotiate(l, false, true)
	}
	return nil
}

// handleCandidate buffers candidates until a remote description exists.
func (m *Manager) handleCandidate(l *Link, c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.final() {
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	return l.conn.AddICECandidate(c)
}

// onState restarts ICE once on failure; a second failure tears the link
// down until a new discovery. Only the offering side sends the restart
// offer.
func (m *Manager) onState(l *Link, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		l.mu.Lock()
		if !l.state.final() {
			l.state = StateConnected
			l.restarted = false
		}
		l.mu.Unlock()
	case webrtc.PeerConnectionStateFailed:
		l.mu.Lock()
		if l.state.final() {
			l.mu.Unlock()
			return
		}
		again := l.restarted
		l.restarted = true
		l.mu.Unlock()
		if again {
			log.Warn().Str("module", "peer").Str("remote", string(l.Remote)).Msg("link failed after ICE restart")
			m.teardown(l, StateFailed)
			return
		}
		if m.cfg.Self < l.Remote {
			log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Msg("link failed, awaiting ICE restart")
			return
		}
		log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Msg("link failed, restarting ICE")
		if err := m.negotiate(l, true, true); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("ICE restart")
			m.teardown(l, StateFailed)
		}
	case webrtc.PeerConnectionStateClosed:
		m.teardown(l, StateClosed)
	}
}

func (m *Manager) teardown(l *Link, final LinkState) {
	l.mu.Lock()
	if l.state.final() {
		l.mu.Unlock()
		return
	}
	l.state = final
	l.pending = nil
	l.mu.Unlock()

	m.mu.Lock()
	if cur, ok := m.links[l.Remote]; ok && cur == l {
		delete(m.links, l.Remote)
	}
	m.mu.Unlock()

	if err := l.conn.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("close link")
	}
	if m.cfg.Sinks != nil {
		m.cfg.Sinks.Release(l.Remote)
	}
	log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Str("state", final.String()).Msg("link torn down")
}

// Drop closes the link to a participant that left or became unreachable.
func (m *Manager) Drop(remote domain.UserID) {
	if l, ok := m.get(remote); ok {
		m.teardown(l, StateClosed)
	}
}

func (m *Manager) AddLocalTrack(track webrtc.TrackLocal) {
	m.mu.Lock()
	m.local[track.ID()] = track
	m.scheduleLocked()
	m.mu.Unlock()
}

func (m *Manager) RemoveLocalTrack(trackID string) {
	m.mu.Lock()
	if _, ok := m.local[trackID]; ok {
		delete(m.local, trackID)
		m.scheduleLocked()
	}
	m.mu.Unlock()
}

func (m *Manager) scheduleLocked() {
	if m.closed {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.cfg.Debounce, func() {
		if err := m.Renegotiate(); err != nil {
			log.Error().Err(err).Str("module", "peer").Msg("renegotiation")
		}
	})
}

// Renegotiate offers the current local track set on every live link, or
// asks for an offer where the remote side owns them. Links are handled
// concurrently and one failing link does not stop the others.
func (m *Manager) Renegotiate() error {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	p := pool.New().WithErrors()
	for _, l := range links {
		p.Go(func() error {
			if err := m.negotiate(l, false, false); err != nil && !errors.Is(err, ErrLinkClosed) {
				return fmt.Errorf("%s: %w", l.Remote, err)
			}
			return nil
		})
	}
	return p.Wait()
}

// Close tears down every link.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()
	for _, l := range links {
		m.teardown(l, StateClosed)
	}
}
