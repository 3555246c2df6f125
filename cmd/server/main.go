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

	"github.com/dennisdiepolder/monti/dialer/internal/aggregator"
	"github.com/dennisdiepolder/monti/dialer/internal/alerts"
	"github.com/dennisdiepolder/monti/dialer/internal/api"
	"github.com/dennisdiepolder/monti/dialer/internal/auth"
	"github.com/dennisdiepolder/monti/dialer/internal/cache"
	"github.com/dennisdiepolder/monti/dialer/internal/compliance"
	"github.com/dennisdiepolder/monti/dialer/internal/config"
	"github.com/dennisdiepolder/monti/dialer/internal/dispatcher"
	"github.com/dennisdiepolder/monti/dialer/internal/event"
	"github.com/dennisdiepolder/monti/dialer/internal/events"
	"github.com/dennisdiepolder/monti/dialer/internal/hopper"
	"github.com/dennisdiepolder/monti/dialer/internal/ingestion"
	"github.com/dennisdiepolder/monti/dialer/internal/metrics"
	"github.com/dennisdiepolder/monti/dialer/internal/observability"
	"github.com/dennisdiepolder/monti/dialer/internal/pacing"
	"github.com/dennisdiepolder/monti/dialer/internal/storage"
	"github.com/dennisdiepolder/monti/dialer/internal/ticker"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/dennisdiepolder/monti/dialer/internal/websocket"
	"github.com/dennisdiepolder/monti/dialer/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const serviceName = "monti-dialer"

func main() {
	// Console output for humans, JSON for log shippers
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("dispatch_mode", cfg.DispatchMode).
		Dur("tick_interval", cfg.TickInterval).
		Msg("starting MONTI dialer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

// services is everything run() starts and the router serves
type services struct {
	store      storage.Store
	tracker    *cache.AgentStateTracker
	registry   *cache.AttemptRegistry
	ledger     *cache.AttemptLedger
	hopper     *hopper.Manager
	governor   *compliance.Governor
	predictor  *pacing.Predictor
	engine     *pacing.Engine
	dispatcher *dispatcher.Async
	processor  *ingestion.DefaultProcessor
	events     *events.Buffer
	publisher  events.Publisher
	hub        *websocket.Hub
	acd        *websocket.ACDFeed
	closers    []func() error
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, serviceName, observability.TracingConfig{
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    true,
		SampleRatio: 1,
		Environment: cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	svc, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range svc.closers {
			if err := closeFn(); err != nil {
				logger.Warn().Err(err).Msg("close failed")
			}
		}
	}()

	if err := seed(ctx, cfg, svc, logger); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, svc, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	go svc.hub.Run()
	g.Go(func() error { svc.dispatcher.Start(gctx); return nil })
	g.Go(func() error { svc.engine.Start(gctx); return nil })
	g.Go(func() error { return svc.acd.Start(gctx, svc.processor) })
	g.Go(func() error {
		agg := aggregator.NewAggregator(svc.engine, svc.tracker, svc.hopper, svc.hub,
			alerts.DefaultThresholds(cfg.MaxWrapUp), logger)
		agg.Start(gctx)
		return nil
	})
	g.Go(func() error {
		housekeeping := ticker.NewTicker(ticker.Deps{
			Tracker:   svc.tracker,
			Registry:  svc.registry,
			Ledger:    svc.ledger,
			Hopper:    svc.hopper,
			Publisher: svc.publisher,
		}, time.Second, cfg.AttemptTimeout, cfg.LateAttemptGrace, logger)
		housekeeping.Start(gctx)
		return nil
	})
	if source, ok := svc.store.(hopper.LeadSource); ok {
		g.Go(func() error {
			hopper.NewReplenisher(svc.hopper, source, 5*time.Second, logger).Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return shutdownTracing(shutdownCtx)
	})

	return g.Wait()
}

// build wires the dialer core. Nothing is started here.
func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*services, error) {
	svc := &services{
		registry:  cache.NewAttemptRegistry(),
		ledger:    cache.NewAttemptLedger(24 * time.Hour),
		hopper:    hopper.NewManager(logger),
		predictor: pacing.NewPredictor(cfg.EWMAHalfLife, cfg.ForecastLookahead),
		events:    events.NewBuffer(500),
		hub:       websocket.NewHub(logger),
		acd:       websocket.NewACDFeed(logger),
	}

	store, err := storage.NewStore(ctx, storage.LoadConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	svc.store = store
	svc.closers = append(svc.closers, store.Close)

	publishers := events.Multi{svc.events, events.NewLogPublisher(logger)}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaEventsTopic != "" {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger)
		publishers = append(publishers, kp)
		svc.closers = append(svc.closers, kp.Close)
	}
	svc.publisher = publishers

	svc.tracker = cache.NewAgentStateTracker(cfg.MaxWrapUp, logger)
	svc.tracker.SetHandleTimeObserver(svc.predictor)

	svc.governor = compliance.NewGovernor(compliance.Config{
		Window:      cfg.DropWindow,
		WindowCalls: cfg.DropWindowCalls,
		Basis:       compliance.Basis(cfg.DropRateBasis),
	}, svc.publisher, logger)

	var inner dispatcher.Dispatcher
	switch cfg.DispatchMode {
	case "http":
		inner = dispatcher.NewHTTPDispatcher(cfg.DispatchURL, 5*time.Second)
	case "kafka":
		kd := dispatcher.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaDialTopic)
		svc.closers = append(svc.closers, kd.Close)
		inner = kd
	default:
		inner = dispatcher.NewNopDispatcher(logger)
	}
	svc.dispatcher = dispatcher.NewAsync(inner, dispatcher.AsyncConfig{
		QueueSize:      cfg.DispatchQueue,
		Workers:        cfg.DispatchWorkers,
		CallsPerSecond: cfg.DispatchCPS,
	}, logger)

	svc.engine = pacing.NewEngine(pacing.Deps{
		Tracker:    svc.tracker,
		Hopper:     svc.hopper,
		Governor:   svc.governor,
		Predictor:  svc.predictor,
		Registry:   svc.registry,
		Dispatcher: svc.dispatcher,
		Store:      store,
		Publisher:  svc.publisher,
		Metrics:    metrics.Get(),
	}, cfg.TickInterval, logger)
	svc.dispatcher.OnFailure(svc.engine.HandleDispatchFailure)

	svc.processor = ingestion.NewDefaultProcessor(ingestion.Deps{
		Tracker:   svc.tracker,
		Hopper:    svc.hopper,
		Governor:  svc.governor,
		Registry:  svc.registry,
		Ledger:    svc.ledger,
		Observer:  svc.predictor,
		Store:     store,
		Publisher: svc.publisher,
		Metrics:   metrics.Get(),
	}, logger)

	return svc, nil
}

// seed restores persisted pacing configs, then applies the campaign seed
// file for campaigns the store does not know yet
func seed(ctx context.Context, cfg *config.Config, svc *services, logger zerolog.Logger) error {
	stored, err := svc.store.LoadPacingConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pacing configs: %w", err)
	}
	for id, pc := range stored {
		if err := svc.engine.Restore(id, pc); err != nil {
			logger.Warn().Err(err).Str("campaign_id", id).Msg("skipping invalid stored pacing config")
		}
	}
	if len(stored) > 0 {
		logger.Info().Int("campaigns", len(stored)).Msg("pacing configs restored")
	}

	if cfg.CampaignsFile == "" {
		return nil
	}
	seeds, err := config.LoadCampaigns(cfg.CampaignsFile)
	if err != nil {
		return err
	}

	backlog, hasBacklog := svc.store.(*storage.SQLStore)
	for _, s := range seeds {
		if _, ok := stored[s.ID]; !ok {
			if err := svc.engine.SetConfig(ctx, s.ID, s.Pacing); err != nil {
				return fmt.Errorf("campaign %s: %w", s.ID, err)
			}
		}
		if s.Paused {
			if err := svc.engine.Pause(ctx, s.ID); err != nil {
				return fmt.Errorf("campaign %s: %w", s.ID, err)
			}
		}

		loaded, err := loadSeedLeads(ctx, svc, backlog, hasBacklog, s.ID, s.Leads)
		if err != nil {
			return fmt.Errorf("campaign %s: %w", s.ID, err)
		}
		logger.Info().
			Str("campaign_id", s.ID).
			Int("leads", loaded).
			Bool("paused", s.Paused).
			Msg("campaign seeded")
	}
	return nil
}

// loadSeedLeads adds seed leads to the SQL backlog, where the replenisher
// picks them up, or straight into the hopper when there is no backlog
func loadSeedLeads(ctx context.Context, svc *services, backlog *storage.SQLStore, hasBacklog bool, campaignID string, leads []types.HopperEntry) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	if hasBacklog {
		return backlog.AddLeads(ctx, campaignID, leads)
	}
	return svc.hopper.Load(campaignID, leads), nil
}

func newRouter(cfg *config.Config, svc *services, logger zerolog.Logger) http.Handler {
	receiver := event.NewReceiver(svc.processor, logger)
	roster := api.NewRosterHandler(svc.processor, logger)
	wsHandler := websocket.NewHandler(svc.hub, cfg, logger)

	handlers := api.Handlers{
		Pacing:   api.NewPacingHandler(svc.engine, logger),
		Agents:   api.NewAgentActionsHandler(svc.processor, svc.tracker, logger),
		Attempts: api.NewAttemptsHandler(svc.processor, svc.store, logger),
		Hopper:   api.NewHopperHandler(svc.hopper, svc.engine, logger),
		Admin: api.NewAdminHandler(cfg.SimURL, api.AdminDeps{
			Tracker:   svc.tracker,
			Hopper:    svc.hopper,
			Registry:  svc.registry,
			Governor:  svc.governor,
			Predictor: svc.predictor,
			Engine:    svc.engine,
			Events:    svc.events,
			Store:     svc.store,
		}, logger),
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Get().Handler())

	// Internal routes for the telephony layer, reachable only inside the cluster
	r.Route("/internal", func(r chi.Router) {
		r.Post("/events", receiver.HandleEvents)
		r.Get("/events/stats", receiver.GetStats)
		r.Post("/agents/roster", roster.HandleRoster)
		r.Get("/acd", svc.acd.ServeHTTP)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/ws", wsHandler.ServeHTTP)
		api.Mount(r, handlers)
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"%s"}`, serviceName)
}
