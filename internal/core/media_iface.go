package core

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the readable side of an incoming media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MediaConnection is one negotiated peer-to-peer media channel as seen by
// the client-side peer manager. Implementations must be safe to call from
// any goroutine; callbacks may fire on internal goroutines.
type MediaConnection interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	// AddLocalTrack attaches a local track; RemoveLocalTrack detaches it by id.
	AddLocalTrack(webrtc.TrackLocal) error
	RemoveLocalTrack(trackID string) error
	// EnsureReceivers makes the next offer carry at least n media sections
	// of kind, adding receive-only ones as needed.
	EnsureReceivers(kind webrtc.RTPCodecType, n int) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	OnStateChange(func(webrtc.PeerConnectionState))

	// Close should stop all underlying media resources.
	Close() error
}
