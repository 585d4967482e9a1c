package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Jam/internal/adapters/events"
	router "github.com/dkeye/Jam/internal/adapters/http"
	"github.com/dkeye/Jam/internal/adapters/rtc"
	"github.com/dkeye/Jam/internal/adapters/turn"
	"github.com/dkeye/Jam/internal/app"
	"github.com/dkeye/Jam/internal/app/orch"
	"github.com/dkeye/Jam/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	cfg.Watch(func(next *config.Config) {
		zerolog.SetGlobalLevel(next.Level())
		log.Info().Str("level", next.Level().String()).Msg("log level reloaded")
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(reg)

	policy, err := app.PolicyFor(cfg.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Msg("backpressure policy")
	}

	var publisher app.EventPublisher = app.NopPublisher{}
	var async *app.AsyncPublisher
	if cfg.Events.RedisAddr != "" {
		rdb, err := events.Dial(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Events.RedisAddr).Msg("redis")
		}
		defer rdb.Close()
		async = app.NewAsyncPublisher(events.NewRedisSink(rdb, cfg.Events.ChannelPrefix), cfg.Events.QueueSize)
		async.OnDrop(metrics.EventsDropped.Inc)
		go async.Run(ctx)
		publisher = async
	}

	var relay *turn.Server
	if cfg.TURN.Enabled {
		relay, err = turn.Listen(turn.Options{
			PublicIP: cfg.TURN.PublicIP,
			Port:     cfg.TURN.Port,
			Realm:    cfg.TURN.Realm,
			Secret:   cfg.TURN.Secret,
			TTL:      cfg.TURN.TTL,
		}, rtc.NewPionLogger(zerolog.WarnLevel))
		if err != nil {
			log.Fatal().Err(err).Msg("turn relay")
		}
		defer relay.Close()
	}

	o := orch.New(orch.Orchestrator{
		Policy:  policy,
		Events:  publisher,
		Metrics: metrics,
		Limiter: app.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
		Chat: orch.ChatOptions{
			NearbyMode:   orch.NearbyMode(cfg.Chat.NearbyMode),
			NearbyRadius: cfg.Chat.NearbyRadius,
			MaxLength:    cfg.Chat.MaxLength,
		},
		ICEServers: turn.ICEServers(cfg.ICE.STUNURLs, relay),
	})

	r := router.SetupRouter(ctx, cfg, o, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Jam server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	if async != nil {
		select {
		case <-async.Done():
		case <-shutdownCtx.Done():
		}
	}
	log.Info().Msg("Server exited gracefully")
}
