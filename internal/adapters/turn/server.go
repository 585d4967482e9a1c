// Package turn runs an embedded TURN relay for peers that cannot reach each
// other directly, and mints the short-lived credentials clients use with it.
package turn

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
	"github.com/pion/logging"
	"github.com/pion/turn/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoPublicIP = errors.New("turn: public ip required")

type Options struct {
	PublicIP string
	Port     int
	Realm    string
	Secret   string
	TTL      time.Duration
}

type Server struct {
	opts   Options
	server *turn.Server
}

// Listen starts the relay on udp4 0.0.0.0:<port>.
func Listen(opts Options, lf logging.LoggerFactory) (*Server, error) {
	ip := net.ParseIP(opts.PublicIP)
	if ip == nil {
		return nil, ErrNoPublicIP
	}
	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("turn listen: %w", err)
	}
	s, err := turn.NewServer(turn.ServerConfig{
		Realm:       opts.Realm,
		AuthHandler: turn.NewLongTermAuthHandler(opts.Secret, lf.NewLogger("turn-auth")),
		PacketConnConfigs: []turn.PacketConnConfig{{
			PacketConn: conn,
			RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
				RelayAddress: ip,
				Address:      "0.0.0.0",
			},
		}},
		LoggerFactory: lf,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("turn server: %w", err)
	}
	log.Info().Str("module", "adapters.turn").Str("ip", opts.PublicIP).Int("port", opts.Port).Msg("TURN relay started")
	return &Server{opts: opts, server: s}, nil
}

func (s *Server) Close() error {
	return s.server.Close()
}

// ICEServers lists the STUN urls plus, when a relay is given, a TURN entry
// with credentials valid for the relay's TTL.
func ICEServers(stun []string, relay *Server) func(domain.UserID) []protocol.ICEServer {
	return func(uid domain.UserID) []protocol.ICEServer {
		var out []protocol.ICEServer
		if len(stun) > 0 {
			out = append(out, protocol.ICEServer{URLs: stun})
		}
		if relay == nil {
			return out
		}
		user, pass, err := turn.GenerateLongTermCredentials(relay.opts.Secret, relay.opts.TTL)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.turn").Str("user", string(uid)).Msg("credentials")
			return out
		}
		addr := net.JoinHostPort(relay.opts.PublicIP, strconv.Itoa(relay.opts.Port))
		return append(out, protocol.ICEServer{
			URLs:       []string{"turn:" + addr + "?transport=udp"},
			Username:   user,
			Credential: pass,
		})
	}
}
