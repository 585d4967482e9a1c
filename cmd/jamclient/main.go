// Command jamclient is a headless participant: it joins a room, negotiates
// peer links, publishes a silent audio track and reads chat and movement
// commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Jam/internal/adapters/rtc"
	"github.com/dkeye/Jam/internal/client"
	"github.com/dkeye/Jam/internal/client/peer"
	"github.com/dkeye/Jam/internal/client/signaling"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/dkeye/Jam/internal/protocol"
)

func main() {
	fs := pflag.NewFlagSet("jamclient", pflag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
	room := fs.String("room", "lobby", "room to join")
	user := fs.String("user", "", "user id sent as X-User-Id (server must trust headers)")
	name := fs.String("name", "", "display name")
	pos := fs.Float64Slice("pos", []float64{0, 0, 0}, "initial position x,y,z")
	radius := fs.Float64("radius", 5, "hearing radius")
	audio := fs.Bool("audio", true, "publish a silent audio track")
	level := fs.String("log-level", "info", "log level")
	pionLevel := fs.String("pion-level", "warn", "log level for the media stack")
	_ = fs.Parse(os.Args[1:])

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if lvl, err := zerolog.ParseLevel(*level); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	plvl, err := zerolog.ParseLevel(*pionLevel)
	if err != nil || plvl == zerolog.NoLevel {
		plvl = zerolog.WarnLevel
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	header := http.Header{}
	if *user != "" {
		header.Set("X-User-Id", *user)
		if *name != "" {
			header.Set("X-User-Name", *name)
		}
	}
	tr, err := signaling.Dial(ctx, *url, signaling.Options{Header: header})
	if err != nil {
		log.Fatal().Err(err).Str("url", *url).Msg("dial")
	}
	defer tr.Close()

	lf := rtc.NewPionLogger(plvl)
	connector := func(ice []protocol.ICEServer) (peer.Factory, error) {
		servers := make([]rtc.ICEServer, 0, len(ice))
		for _, s := range ice {
			servers = append(servers, rtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
		}
		api, err := rtc.NewAPI(rtc.ICEConfig(servers), lf)
		if err != nil {
			return nil, err
		}
		return func(remote domain.UserID) (core.MediaConnection, error) {
			return api.NewConnection(remote)
		}, nil
	}

	start := toVec(*pos)
	session := client.NewSession(tr, connector, client.Options{
		Room:         domain.RoomID(*room),
		DisplayName:  *name,
		Position:     start,
		Radius:       *radius,
		PublishAudio: *audio,
	})

	go readCommands(ctx, session, start)

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("session ended")
		os.Exit(1)
	}
	// let the leave frame go out
	time.Sleep(100 * time.Millisecond)
}

// readCommands understands "/move x y z", "/near text" and plain lines as
// global chat.
func readCommands(ctx context.Context, s *client.Session, pos domain.Vec3) {
	select {
	case <-s.Ready():
	case <-ctx.Done():
		return
	}
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		var err error
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/move "):
			fields := strings.Fields(strings.TrimPrefix(line, "/move "))
			coords := make([]float64, 0, 3)
			for _, f := range fields {
				v, perr := strconv.ParseFloat(f, 64)
				if perr != nil {
					break
				}
				coords = append(coords, v)
			}
			if len(coords) != 3 {
				log.Warn().Str("line", line).Msg("usage: /move x y z")
				continue
			}
			pos = toVec(coords)
			err = s.Move(pos, domain.Vec3{})
		case strings.HasPrefix(line, "/near "):
			err = s.Say(strings.TrimPrefix(line, "/near "), true)
		default:
			err = s.Say(line, false)
		}
		if err != nil {
			log.Warn().Err(err).Msg("send")
		}
	}
}

func toVec(v []float64) domain.Vec3 {
	var out domain.Vec3
	copy(out[:], v)
	return out
}
