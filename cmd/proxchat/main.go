package main

import (
	"context"
	"os"
	"time"

	"github.com/proxchat/relay/pkg/config"
	"github.com/proxchat/relay/pkg/logger"
	"github.com/proxchat/relay/pkg/monitoring"
	pos "github.com/proxchat/relay/pkg/os"
	"github.com/proxchat/relay/pkg/relay"
	"github.com/proxchat/relay/pkg/service"
)

var Version = "?"

const shutdownTimeout = 10 * time.Second

func main() {
	conf, err := config.NewConfig(os.Args[1:])
	log := logger.NewConsole(conf.Verbose, "proxchat", false)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	services := service.Group{}
	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, log)
		if err != nil {
			log.Fatal().Err(err).Msg("monitoring")
		}
		services.Add(mon)
	}
	r := relay.New(conf, log)
	front, err := relay.NewFrontend(conf.Server, r.Handler(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("server")
	}
	services.Add(r, front)
	services.Start()

	sig := <-pos.ExpectTermination()
	log.Info().Msgf("shutting down on %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := services.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
