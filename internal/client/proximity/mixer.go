// Package proximity turns avatar positions into per-peer volume and
// visibility. It only drives outputs and never touches negotiated
// connections.
package proximity

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Jam/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	MinVolume     = 0.2
	DefaultRadius = 5.0
	DefaultTick   = 100 * time.Millisecond
)

// Volume maps a distance to a gain. Beyond radius the peer is out of range.
func Volume(distance, radius float64) (float64, bool) {
	if radius <= 0 || distance > radius {
		return 0, false
	}
	return max(MinVolume, 1.0-(distance/radius)*0.8), true
}

// Output receives the mixer's decisions; *media.Sinks implements it.
type Output interface {
	SetAudible(remote domain.UserID, volume float64, audible bool)
	SetVisible(remote domain.UserID, visible bool)
}

type Level struct {
	Volume  float64
	Audible bool
}

type Mixer struct {
	radius float64
	tick   time.Duration
	out    Output

	mu     sync.Mutex
	self   domain.Vec3
	others map[domain.UserID]domain.Vec3
	last   map[domain.UserID]Level
}

func NewMixer(radius float64, tick time.Duration, out Output) *Mixer {
	if radius <= 0 {
		radius = DefaultRadius
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Mixer{
		radius: radius,
		tick:   tick,
		out:    out,
		others: make(map[domain.UserID]domain.Vec3),
		last:   make(map[domain.UserID]Level),
	}
}

func (m *Mixer) SetSelf(pos domain.Vec3) {
	m.mu.Lock()
	m.self = pos
	m.mu.Unlock()
}

func (m *Mixer) Update(remote domain.UserID, pos domain.Vec3) {
	m.mu.Lock()
	m.others[remote] = pos
	m.mu.Unlock()
}

func (m *Mixer) Remove(remote domain.UserID) {
	m.mu.Lock()
	delete(m.others, remote)
	delete(m.last, remote)
	m.mu.Unlock()
}

// Level reports what the last Apply decided for remote.
func (m *Mixer) Level(remote domain.UserID) (Level, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.last[remote]
	return l, ok
}

// Apply recomputes every peer's level and pushes it to the output.
func (m *Mixer) Apply() {
	m.mu.Lock()
	levels := make(map[domain.UserID]Level, len(m.others))
	for uid, pos := range m.others {
		v, ok := Volume(m.self.Distance(pos), m.radius)
		levels[uid] = Level{Volume: v, Audible: ok}
	}
	for uid, l := range levels {
		if prev, seen := m.last[uid]; seen && prev.Audible != l.Audible {
			log.Debug().Str("module", "proximity").Str("remote", string(uid)).Bool("audible", l.Audible).Msg("range changed")
		}
		m.last[uid] = l
	}
	m.mu.Unlock()

	if m.out == nil {
		return
	}
	for uid, l := range levels {
		m.out.SetAudible(uid, l.Volume, l.Audible)
		m.out.SetVisible(uid, l.Audible)
	}
}

// Run applies on a fixed tick until ctx ends.
func (m *Mixer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Apply()
		}
	}
}

// InRange lists the peers the last Apply found within the radius.
func (m *Mixer) InRange() []domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserID, 0, len(m.last))
	for uid, l := range m.last {
		if l.Audible {
			out = append(out, uid)
		}
	}
	return out
}
