package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/api"
	"github.com/dennisdiepolder/monti/wallboard/internal/auth"
	"github.com/dennisdiepolder/monti/wallboard/internal/broadcast"
	"github.com/dennisdiepolder/monti/wallboard/internal/config"
	"github.com/dennisdiepolder/monti/wallboard/internal/event"
	"github.com/dennisdiepolder/monti/wallboard/internal/ingestion"
	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/dennisdiepolder/monti/wallboard/internal/normalizer"
	"github.com/dennisdiepolder/monti/wallboard/internal/publisher"
	"github.com/dennisdiepolder/monti/wallboard/internal/reaper"
	"github.com/dennisdiepolder/monti/wallboard/internal/reconciler"
	"github.com/dennisdiepolder/monti/wallboard/internal/storage"
	"github.com/dennisdiepolder/monti/wallboard/internal/websocket"
	"github.com/dennisdiepolder/monti/wallboard/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
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
		Str("timezone", cfg.Location.String()).
		Dur("call_max_age", cfg.CallMaxAge).
		Bool("daily_rollover", cfg.DailyRollover).
		Msg("starting wallboard server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Install store
	store, err := storage.NewStore(ctx, storage.LoadConfig(), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize install store")
	}
	defer store.Close()

	// Normalizer rules
	rules := normalizer.DefaultRules()
	if cfg.NormalizerRules != "" {
		rules, err = normalizer.LoadRules(cfg.NormalizerRules)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.NormalizerRules).Msg("failed to load normalizer rules")
		}
	}
	norm := normalizer.New(rules, normalizer.WithLocation(cfg.Location))
	rec := reconciler.New(log.Logger, reconciler.WithTrustEndHints(cfg.TrustEndHints))

	// Dashboard push
	hub := websocket.NewHub(log.Logger)
	go hub.Run(ctx)

	var fanoutOpts []broadcast.Option
	if cfg.MQTTBroker != "" {
		pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			QoS:      cfg.MQTTQoS,
		}, log.Logger)
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTTBroker).Msg("MQTT unavailable, continuing without it")
		} else {
			defer pub.Close()
			fanoutOpts = append(fanoutOpts, broadcast.WithPublisher(pub, cfg.MQTTTopicPrefix))
		}
	}
	fanout := broadcast.NewFanout([]broadcast.Sink{hub}, log.Logger, fanoutOpts...)
	go fanout.Run(ctx)

	// Core engine
	engine := ingestion.NewEngine(norm, rec, fanout, log.Logger)
	engine.Republish()

	dispatcher := ingestion.NewDispatcher(engine, cfg.EventQueueSize, log.Logger)
	var dispatcherDone sync.WaitGroup
	dispatcherDone.Add(1)
	go func() {
		defer dispatcherDone.Done()
		dispatcher.Run(ctx)
	}()

	var reaperOpts []reaper.Option
	if cfg.DailyRollover {
		reaperOpts = append(reaperOpts, reaper.WithDailyRollover(cfg.Location))
	}
	go reaper.New(engine, cfg.ReaperInterval, cfg.CallMaxAge, log.Logger, reaperOpts...).Start(ctx)

	if cfg.SnapshotInterval > 0 {
		go broadcast.NewRefresher(engine, cfg.SnapshotInterval, log.Logger).Start(ctx)
	}

	if cfg.NormalizerRules != "" {
		go func() {
			if err := norm.Watch(ctx, cfg.NormalizerRules, log.Logger); err != nil {
				log.Warn().Err(err).Msg("normalizer rule watch stopped")
			}
		}()
	}

	// Auth
	authCfg := auth.LoadConfig()
	var keyfunc jwt.Keyfunc
	if authCfg.VerifySignature && !authCfg.SkipAuth {
		jwks, err := auth.NewJWKSManager(authCfg.IssuerURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize JWKS")
		}
		keyfunc = jwks.Keyfunc()
	}

	receiver := event.NewReceiver(dispatcher, store, cfg.WebhookToken, log.Logger)

	r := newRouter(routes{
		cfg:        cfg,
		gate:       auth.NewGate(authCfg, keyfunc, log.Logger),
		receiver:   receiver,
		dispatcher: dispatcher,
		ws:         websocket.NewHandler(hub, cfg, log.Logger),
		wallboard:  api.NewWallboardHandler(engine, log.Logger),
		admin:      api.NewAdminHandler(engine, store, log.Logger),
		install:    api.NewInstallHandler(store, cfg.WebhookToken, log.Logger),
		logger:     log.Logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so the queue can drain
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	cancel()
	dispatcherDone.Wait()
	receiver.Wait()

	log.Info().Msg("server stopped")
}

type routes struct {
	cfg        *config.Config
	gate       *auth.Gate
	receiver   *event.Receiver
	dispatcher *ingestion.Dispatcher
	ws         http.Handler
	wallboard  *api.WallboardHandler
	admin      *api.AdminHandler
	install    *api.InstallHandler
	logger     zerolog.Logger
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(rt.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(httpMetrics)
	r.Use(middleware.CORS(rt.cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Telephony webhooks, guarded by the application token instead of JWT
	r.HandleFunc("/webhook", rt.receiver.HandleEvent)
	r.Post("/install", rt.install.HandleInstall)
	r.Route("/internal", func(r chi.Router) {
		r.HandleFunc("/event", rt.receiver.HandleEvent)
		r.Get("/event/stats", rt.receiver.GetStats)
		r.Get("/queue/stats", queueStatsHandler(rt.dispatcher))
	})

	// Dashboard routes
	r.Group(func(r chi.Router) {
		r.Use(rt.gate.Middleware)
		r.Get("/ws", rt.ws.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Get("/snapshot", rt.wallboard.GetSnapshot)
			r.Get("/calls", rt.wallboard.ListCalls)
			r.Get("/calls/{callId}", rt.wallboard.GetCall)
			r.Get("/agents", rt.wallboard.ListAgents)
			r.Get("/agents/{agentId}", rt.wallboard.GetAgent)

			r.Route("/admin", func(r chi.Router) {
				r.Use(api.RequireAdmin)
				r.Post("/rollover", rt.admin.Rollover)
				r.Get("/installs", rt.admin.ListInstalls)
			})
		})
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"wallboard"}`)
}

// httpMetrics counts requests per chi route pattern
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.Get().RecordHTTPRequest(pattern, status)
	})
}

func queueStatsHandler(d *ingestion.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.Stats())
	}
}
