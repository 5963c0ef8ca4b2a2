package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"matchbook/internal/config"
	"matchbook/internal/engine"
	"matchbook/internal/logging"
	"matchbook/internal/net"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "Path to a yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("unable to set up logging")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the matching engine and the TCP server in front of it.
	eng := engine.New(ctx, cfg.Engine.InboxSize)
	srv := net.New(net.Config{
		Address:      cfg.Server.Address,
		Port:         cfg.Server.Port,
		Workers:      cfg.Server.Workers,
		MaxSessions:  cfg.Server.MaxSessions,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, eng)

	log.Info().
		Str("ticker", cfg.Market.Ticker).
		Int32("price_scale", cfg.Market.PriceScale).
		Msg("starting")

	// Block on running the server.
	runErr := srv.Run(ctx)
	stop()
	if err := eng.Stop(); err != nil {
		log.Error().Err(err).Msg("engine stopped with error")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("server stopped with error")
		os.Exit(1)
	}
}
