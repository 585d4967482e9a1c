// Package media consumes remote tracks on the client: every incoming track
// gets a Sink that reads RTP and hands it to an Output according to the
// state the proximity mixer last set.
package media

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStateMuted:
		return "muted"
	case TrackStateDelete:
		return "delete"
	}
	return "unknown"
}

// Output is where a sink's packets end up (a decoder, a recorder, or a
// webrtc.TrackLocalStaticRTP when re-publishing).
type Output interface {
	WriteRTP(*rtp.Packet) error
}

// Sink is one remote track on its way to an Output.
type Sink struct {
	Remote  domain.UserID
	TrackID string
	Kind    webrtc.RTPCodecType
	Out     Output

	state   atomic.Int32
	volume  atomic.Uint64 // float64 bits
	packets atomic.Uint64
	muted   atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func newSink(remote domain.UserID, src core.RemoteTrack, out Output, cancel context.CancelFunc) *Sink {
	s := &Sink{
		Remote:  remote,
		TrackID: src.ID(),
		Kind:    src.Kind(),
		Out:     out,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.volume.Store(math.Float64bits(1))
	return s
}

func (s *Sink) GetState() TrackState {
	return TrackState(s.state.Load())
}

func (s *Sink) MarkOk() {
	s.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (s *Sink) MarkMuted() {
	s.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

// MarkDelete is terminal.
func (s *Sink) MarkDelete() {
	s.state.Store(int32(TrackStateDelete))
}

func (s *Sink) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

func (s *Sink) SetVolume(v float64) {
	s.volume.Store(math.Float64bits(v))
}

// Packets is the number of packets delivered to Out.
func (s *Sink) Packets() uint64 { return s.packets.Load() }

// Discarded is the number of packets read while muted.
func (s *Sink) Discarded() uint64 { return s.muted.Load() }

// Done is closed once the read loop has exited.
func (s *Sink) Done() <-chan struct{} { return s.done }

func (s *Sink) stop() {
	s.MarkDelete()
	if s.cancel != nil {
		s.cancel()
	}
}

// loop reads RTP packets from the remote track until it ends, the context is
// canceled, or the sink is marked for delete.
func (s *Sink) loop(ctx context.Context, src core.RemoteTrack, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("sink ctx done")
			s.MarkDelete()
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("sink read RTP stopped")
			s.MarkDelete()
			return
		}
		if !s.deliver(pkt, logger) {
			return
		}
	}
}

func (s *Sink) deliver(pkt *rtp.Packet, logger *zerolog.Logger) bool {
	switch s.GetState() {
	case TrackStateDelete:
		return false
	case TrackStateMuted:
		s.muted.Add(1)
	case TrackStateOk:
		s.packets.Add(1)
		if s.Out == nil {
			return true
		}
		if err := s.Out.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("sink write RTP error, marking for delete")
			s.MarkDelete()
			return false
		}
	}
	return true
}
