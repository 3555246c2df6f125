package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/sim"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		port       = flag.String("port", "8090", "Control and originate API port")
		dialerURL  = flag.String("dialer-url", "http://localhost:8080", "Dialer base URL")
		campaign   = flag.String("campaign", "demo", "Campaign to staff on auto-start")
		agents     = flag.Int("agents", 10, "Agents per campaign")
		answerProb = flag.Float64("answer-prob", 0.3, "Probability that a call is answered")
		autoStart  = flag.Bool("auto-start", false, "Automatically start simulation")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Logger
	if isatty.IsTerminal(os.Stdout.Fd()) {
		logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	logger = logger.With().Str("service", "dialsim").Logger()

	logger.Info().Str("dialer_url", *dialerURL).Msg("starting telephony simulator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	simulator := sim.NewSimulator(sim.NewServiceClient(*dialerURL), time.Now().UnixNano(), logger)

	cfg := sim.DefaultConfig()
	cfg.Campaigns = []string{*campaign}
	cfg.AgentsPerCampaign = *agents
	cfg.AnswerProb = *answerProb
	if err := simulator.SetConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid simulator configuration")
	}

	if *autoStart {
		if err := simulator.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("auto-start failed")
		}
	}

	api := sim.NewAPI(simulator, logger)
	if err := api.Start(ctx, ":"+*port); err != nil {
		logger.Fatal().Err(err).Msg("control API failed")
	}

	if simulator.Status().Running {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		simulator.Stop(stopCtx)
	}
	logger.Info().Msg("simulator stopped")
}
