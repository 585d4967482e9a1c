// Package client runs one participant: it joins a room over the signaling
// socket, keeps peer links in step with room membership and feeds
// positions to the proximity mixer.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Jam/internal/client/media"
	"github.com/dkeye/Jam/internal/client/peer"
	"github.com/dkeye/Jam/internal/client/proximity"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNoWelcome = errors.New("client: socket closed before welcome")

// Transport is the coordinator socket; *signaling.Client implements it.
type Transport interface {
	peer.Signaler
	Send(protocol.Message) error
	Messages() <-chan protocol.Outbound
}

// ConnectorFunc builds the link factory once the ICE servers are known.
type ConnectorFunc func(ice []protocol.ICEServer) (peer.Factory, error)

type Options struct {
	Room        domain.RoomID
	DisplayName string
	Avatar      string
	Position    domain.Vec3
	Rotation    domain.Vec3

	Radius       float64
	Tick         time.Duration
	Debounce     time.Duration
	PublishAudio bool
	Output       media.OutputFactory
	// OnChat, when set, receives every chat message delivered to us.
	OnChat func(*protocol.ChatMessage)
}

type Session struct {
	opts    Options
	tr      Transport
	connect ConnectorFunc

	mu    sync.Mutex
	self  domain.User
	peers *peer.Manager
	sinks *media.Sinks
	mixer *proximity.Mixer

	ready chan struct{}
}

func NewSession(tr Transport, connect ConnectorFunc, opts Options) *Session {
	return &Session{opts: opts, tr: tr, connect: connect, ready: make(chan struct{})}
}

// Ready is closed once the join has been sent.
func (s *Session) Ready() <-chan struct{} { return s.ready }

func (s *Session) Self() domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Peers, Mixer and Sinks are nil until the welcome arrives.
func (s *Session) Peers() *peer.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers
}

func (s *Session) Mixer() *proximity.Mixer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mixer
}

func (s *Session) Sinks() *media.Sinks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinks
}

// Run blocks until ctx ends or the socket closes.
func (s *Session) Run(ctx context.Context) error {
	w, err := s.awaitWelcome(ctx)
	if err != nil {
		return err
	}
	factory, err := s.connect(w.ICEServers)
	if err != nil {
		return fmt.Errorf("media api: %w", err)
	}

	s.mu.Lock()
	s.self = w.User
	s.sinks = media.NewSinks(ctx, s.opts.Output)
	s.mixer = proximity.NewMixer(s.opts.Radius, s.opts.Tick, s.sinks)
	s.mixer.SetSelf(s.opts.Position)
	s.peers = peer.NewManager(peer.Config{
		Self:     w.User.ID,
		Signaler: s.tr,
		Connect:  factory,
		Sinks:    s.sinks,
		Debounce: s.opts.Debounce,
	})
	s.mu.Unlock()
	defer s.sinks.Close()
	defer s.peers.Close()

	logger := log.With().Str("module", "client").Str("user", string(w.User.ID)).Logger()

	if s.opts.PublishAudio {
		track, err := media.NewSilentAudio(w.User.ID)
		if err != nil {
			return fmt.Errorf("local audio: %w", err)
		}
		go media.PumpSilence(ctx, track)
		s.peers.AddLocalTrack(track)
	}

	if err := s.tr.Send(&protocol.Join{
		RoomID:      s.opts.Room,
		DisplayName: s.opts.DisplayName,
		Avatar:      s.opts.Avatar,
		Position:    s.opts.Position,
		Rotation:    s.opts.Rotation,
	}); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	close(s.ready)
	logger.Info().Str("room", string(s.opts.Room)).Msg("joining")

	go s.mixer.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = s.tr.Send(&protocol.Leave{RoomID: s.opts.Room})
			return nil
		case m, ok := <-s.tr.Messages():
			if !ok {
				logger.Info().Msg("signaling closed")
				return nil
			}
			s.handle(m)
		}
	}
}

func (s *Session) awaitWelcome(ctx context.Context) (*protocol.Welcome, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-s.tr.Messages():
			if !ok {
				return nil, ErrNoWelcome
			}
			if w, ok := m.(*protocol.Welcome); ok {
				return w, nil
			}
			log.Debug().Str("module", "client").Str("type", string(m.Kind())).Msg("ignored before welcome")
		}
	}
}

func (s *Session) handle(m protocol.Outbound) {
	logger := log.With().Str("module", "client").Str("type", string(m.Kind())).Logger()
	switch msg := m.(type) {
	case *protocol.CurrentMembers:
		uids := make([]domain.UserID, 0, len(msg.Members))
		for _, p := range msg.Members {
			s.mixer.Update(p.UserID, p.Position)
			uids = append(uids, p.UserID)
		}
		s.peers.Discover(uids...)
		logger.Info().Int("members", len(uids)).Msg("joined room")
	case *protocol.MemberJoined:
		s.mixer.Update(msg.Member.UserID, msg.Member.Position)
		// a known user joining again came back on a new connection
		if _, known := s.peers.State(msg.Member.UserID); known {
			s.peers.Drop(msg.Member.UserID)
		}
		s.peers.Discover(msg.Member.UserID)
	case *protocol.MemberMoved:
		s.mixer.Update(msg.UserID, msg.Position)
	case *protocol.MemberLeft:
		s.mixer.Remove(msg.UserID)
		s.peers.Drop(msg.UserID)
	case *protocol.SignalRelay:
		if err := s.peers.HandleSignal(msg.SenderID, msg.Signal, msg.Payload); err != nil {
			logger.Warn().Err(err).Str("sender", string(msg.SenderID)).Msg("signal")
		}
	case *protocol.TargetUnavailable:
		logger.Warn().Str("target", string(msg.TargetID)).Msg("peer unreachable")
		s.peers.Drop(msg.TargetID)
	case *protocol.ChatMessage:
		logger.Info().Str("from", msg.SenderName).Str("scope", string(msg.Scope)).Msg(msg.Text)
		if s.opts.OnChat != nil {
			s.opts.OnChat(msg)
		}
	case *protocol.SystemNotice:
		logger.Info().Str("kind", string(msg.Notice)).Str("name", msg.DisplayName).Msg("notice")
	case *protocol.Pong, *protocol.Welcome:
	}
}

// Move updates our position locally and in the room.
func (s *Session) Move(pos, rot domain.Vec3) error {
	s.mu.Lock()
	mixer := s.mixer
	s.mu.Unlock()
	if mixer != nil {
		mixer.SetSelf(pos)
	}
	return s.tr.Send(&protocol.Move{Position: pos, Rotation: rot})
}

// Say sends a chat line. Nearby chat names the peers currently in range.
func (s *Session) Say(text string, nearby bool) error {
	if !nearby {
		return s.tr.Send(&protocol.Chat{Text: text, Scope: domain.ChatGlobal})
	}
	s.mu.Lock()
	mixer := s.mixer
	s.mu.Unlock()
	var recipients []domain.UserID
	if mixer != nil {
		recipients = mixer.InRange()
	}
	return s.tr.Send(&protocol.Chat{Text: text, Scope: domain.ChatNearby, Recipients: recipients})
}
