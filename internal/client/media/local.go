package media

import (
	"context"
	"time"

	"github.com/dkeye/Jam/internal/domain"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const opusFrame = 20 * time.Millisecond

// opus TOC for a 20ms CELT silence frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// NewSilentAudio builds a local opus track for a participant without a
// microphone so peers still have something to negotiate.
func NewSilentAudio(uid domain.UserID) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"jam-"+string(uid),
	)
}

// PumpSilence writes silence frames into track until ctx ends.
func PumpSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				log.Error().Err(err).Str("module", "media").Str("track_id", track.ID()).Msg("write silence")
				return
			}
		}
	}
}
