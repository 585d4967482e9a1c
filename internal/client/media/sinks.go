package media

import (
	"context"
	"sync"

	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// OutputFactory picks the Output for a new remote track; it may return nil.
type OutputFactory func(remote domain.UserID, track core.RemoteTrack) Output

type level struct {
	volume  float64
	audible bool
	visible bool
}

// Sinks demultiplexes remote tracks: audio is keyed by (remote, track id),
// video keeps one sink per remote. Tracks start muted until the mixer
// reports the remote in range.
type Sinks struct {
	ctx       context.Context
	newOutput OutputFactory

	mu     sync.RWMutex
	audio  map[domain.UserID]map[string]*Sink
	video  map[domain.UserID]*Sink
	levels map[domain.UserID]level
}

func NewSinks(ctx context.Context, newOutput OutputFactory) *Sinks {
	return &Sinks{
		ctx:       ctx,
		newOutput: newOutput,
		audio:     make(map[domain.UserID]map[string]*Sink),
		video:     make(map[domain.UserID]*Sink),
		levels:    make(map[domain.UserID]level),
	}
}

// AddTrack routes a remote track by kind.
func (m *Sinks) AddTrack(remote domain.UserID, track core.RemoteTrack) {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		m.AddVideo(remote, track)
		return
	}
	m.AddAudio(remote, track)
}

func (m *Sinks) AddAudio(remote domain.UserID, track core.RemoteTrack) *Sink {
	s, ctx, logger := m.prepare(remote, track)

	m.mu.Lock()
	tracks, ok := m.audio[remote]
	if !ok {
		tracks = make(map[string]*Sink)
		m.audio[remote] = tracks
	}
	if old, ok := tracks[s.TrackID]; ok {
		logger.Info().Msg("replacing audio sink")
		old.stop()
	}
	tracks[s.TrackID] = s
	applyAudio(s, m.levels[remote])
	m.mu.Unlock()

	logger.Info().Msg("starting audio sink")
	go s.loop(ctx, track, &logger)
	return s
}

// AddVideo replaces any previous video sink of remote.
func (m *Sinks) AddVideo(remote domain.UserID, track core.RemoteTrack) *Sink {
	s, ctx, logger := m.prepare(remote, track)

	m.mu.Lock()
	if old, ok := m.video[remote]; ok {
		logger.Info().Str("old_track_id", old.TrackID).Msg("replacing video sink")
		old.stop()
	}
	m.video[remote] = s
	applyVideo(s, m.levels[remote])
	m.mu.Unlock()

	logger.Info().Msg("starting video sink")
	go s.loop(ctx, track, &logger)
	return s
}

func (m *Sinks) prepare(remote domain.UserID, track core.RemoteTrack) (*Sink, context.Context, zerolog.Logger) {
	logger := log.With().
		Str("module", "media").
		Str("remote", string(remote)).
		Str("track_id", track.ID()).
		Str("kind", track.Kind().String()).
		Logger()
	ctx, cancel := context.WithCancel(m.ctx)
	var out Output
	if m.newOutput != nil {
		out = m.newOutput(remote, track)
	}
	s := newSink(remote, track, out, cancel)
	s.state.Store(int32(TrackStateMuted))
	return s, ctx, logger
}

// Release drops every sink of remote.
func (m *Sinks) Release(remote domain.UserID) {
	m.mu.Lock()
	tracks := m.audio[remote]
	video := m.video[remote]
	delete(m.audio, remote)
	delete(m.video, remote)
	delete(m.levels, remote)
	m.mu.Unlock()

	for _, s := range tracks {
		s.stop()
	}
	if video != nil {
		video.stop()
	}
	if len(tracks) > 0 || video != nil {
		log.Info().Str("module", "media").Str("remote", string(remote)).Msg("sinks released")
	}
}

// SetAudible sets the volume of every audio sink of remote and mutes or
// unmutes them.
func (m *Sinks) SetAudible(remote domain.UserID, volume float64, audible bool) {
	m.mu.Lock()
	lv := m.levels[remote]
	lv.volume, lv.audible = volume, audible
	m.levels[remote] = lv
	for _, s := range m.audio[remote] {
		applyAudio(s, lv)
	}
	m.mu.Unlock()
}

func (m *Sinks) SetVisible(remote domain.UserID, visible bool) {
	m.mu.Lock()
	lv := m.levels[remote]
	lv.visible = visible
	m.levels[remote] = lv
	if video, ok := m.video[remote]; ok {
		applyVideo(video, lv)
	}
	m.mu.Unlock()
}

func (m *Sinks) Audio(remote domain.UserID) []*Sink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Sink, 0, len(m.audio[remote]))
	for _, s := range m.audio[remote] {
		out = append(out, s)
	}
	return out
}

func (m *Sinks) Video(remote domain.UserID) (*Sink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.video[remote]
	return s, ok
}

// Close stops every sink.
func (m *Sinks) Close() {
	m.mu.RLock()
	remotes := make([]domain.UserID, 0, len(m.audio)+len(m.video))
	for r := range m.audio {
		remotes = append(remotes, r)
	}
	for r := range m.video {
		if _, ok := m.audio[r]; !ok {
			remotes = append(remotes, r)
		}
	}
	m.mu.RUnlock()
	for _, r := range remotes {
		m.Release(r)
	}
}

func applyAudio(s *Sink, lv level) {
	s.SetVolume(lv.volume)
	if lv.audible {
		s.MarkOk()
	} else {
		s.MarkMuted()
	}
}

func applyVideo(s *Sink, lv level) {
	if lv.visible {
		s.MarkOk()
	} else {
		s.MarkMuted()
	}
}
