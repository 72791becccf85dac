package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hemis-telemetry/internal/audit"
	"hemis-telemetry/internal/auth"
	"hemis-telemetry/internal/fanout"
	"hemis-telemetry/internal/notify"
	"hemis-telemetry/internal/observability/logging"
	"hemis-telemetry/internal/observability/metrics"
	simapp "hemis-telemetry/internal/simulation/application"
	simhttp "hemis-telemetry/internal/simulation/interfaces/http"
	telemetryapp "hemis-telemetry/internal/telemetry/application"
	telemetry "hemis-telemetry/internal/telemetry/domain"
	telemetrykafka "hemis-telemetry/internal/telemetry/infrastructure/kafka"
	telemetrypostgres "hemis-telemetry/internal/telemetry/infrastructure/postgres"
	telemetryhttp "hemis-telemetry/internal/telemetry/interfaces/http"
	telemetrymqtt "hemis-telemetry/internal/telemetry/interfaces/mqtt"
)

const serviceName = "hemis-telemetry"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := telemetrypostgres.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
	}

	store, err := telemetrypostgres.Open(cfg.DatabaseURL, telemetrypostgres.ParseRoleDSNs(cfg.RoleDSNs), logger)
	if err != nil {
		logger.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("store ping failed", zap.Error(err))
	}
	metrics.Init(store.Default(), logger)

	query := telemetrypostgres.NewTelemetryQuery(store)
	ingestRepo := telemetrypostgres.NewTelemetryRepository(store)
	simRepo := telemetrypostgres.NewTelemetryRepository(store, telemetrypostgres.WithRole(telemetrypostgres.RoleSimulator))

	hub := fanout.NewHub(logger)
	var fan telemetryapp.Fanout = hub
	var relay *fanout.Relay
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		relay, err = fanout.NewRelay(hub, client, cfg.RedisChannel, logger)
		if err != nil {
			logger.Fatal("relay error", zap.Error(err))
		}
		fan = relay
	}
	broadcaster, err := telemetryapp.NewBroadcaster(fan, logger)
	if err != nil {
		logger.Fatal("broadcaster error", zap.Error(err))
	}

	recorderOpts := []telemetryapp.RecorderOption{telemetryapp.WithAlertThresholds(cfg.Alerts)}

	var alertNotifier *notify.Notifier
	if cfg.AlertWebhookURL != "" {
		alertNotifier = buildNotifier(cfg, query, logger)
		defer alertNotifier.Close()
		recorderOpts = append(recorderOpts, telemetryapp.WithNotifier(notify.NewMultiNotifier(alertNotifier)))
	}

	if brokers := telemetrykafka.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		publisher, err := telemetrykafka.New(telemetrykafka.Config{Brokers: brokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			logger.Fatal("kafka publisher error", zap.Error(err))
		}
		defer publisher.Close()
		recorderOpts = append(recorderOpts, telemetryapp.WithEventSink(publisher))
	}

	newRecorder := func(writer telemetry.SampleWriter, source string) *telemetryapp.Recorder {
		opts := append(append([]telemetryapp.RecorderOption(nil), recorderOpts...), telemetryapp.WithSource(source))
		rec, err := telemetryapp.NewRecorder(writer, query, broadcaster, logger, opts...)
		if err != nil {
			logger.Fatal("recorder error", zap.String("source", source), zap.Error(err))
		}
		return rec
	}

	validator := telemetry.NewValidator(cfg.Ranges)
	ingestService, err := telemetryapp.NewIngestService(newRecorder(ingestRepo, telemetryapp.SourceIngest), logger, telemetryapp.WithValidator(validator))
	if err != nil {
		logger.Fatal("ingest service error", zap.Error(err))
	}

	poller, err := telemetryapp.NewPoller(query, broadcaster, logger,
		telemetryapp.WithPollInterval(cfg.PollInterval),
		telemetryapp.WithPollLookback(cfg.PollLookback),
		telemetryapp.WithBaseContext(ctx),
	)
	if err != nil {
		logger.Fatal("poller error", zap.Error(err))
	}
	if cfg.PollAutostart {
		poller.Start()
	}
	defer poller.Stop()

	reads, err := telemetryapp.NewReadService(query, query,
		telemetryapp.WithStaleAfter(cfg.StaleAfter),
		telemetryapp.WithReadThresholds(cfg.Alerts),
	)
	if err != nil {
		logger.Fatal("read service error", zap.Error(err))
	}

	registry, err := simapp.NewRegistry(newRecorder(simRepo, telemetryapp.SourceSimulation), logger, simapp.WithConfig(cfg.Simulation))
	if err != nil {
		logger.Fatal("simulation registry error", zap.Error(err))
	}
	defer registry.Close()

	access := auth.RoleAccess{}
	auditRepo := audit.NewRepository(store.Default())
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatal("ingest handler error", zap.Error(err))
	}
	telemetryHandler, err := telemetryhttp.NewHandler(reads, poller, logger, telemetryhttp.WithAccessChecker(access), telemetryhttp.WithAuditLogger(auditRepo))
	if err != nil {
		logger.Fatal("telemetry handler error", zap.Error(err))
	}
	simHandler, err := simhttp.NewHandler(registry, logger, simhttp.WithAccessChecker(access), simhttp.WithAuditLogger(auditRepo))
	if err != nil {
		logger.Fatal("simulation handler error", zap.Error(err))
	}
	wsHandler, err := fanout.NewWSHandler(hub, logger,
		fanout.WithAccessChecker(access),
		fanout.WithJWTSecret([]byte(cfg.JWTSecret)),
		fanout.WithMessageRate(cfg.WSMessageRate),
	)
	if err != nil {
		logger.Fatal("websocket handler error", zap.Error(err))
	}
	streamHandler, err := fanout.NewStreamHandler(hub, access, logger)
	if err != nil {
		logger.Fatal("stream handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/ws", "/api/v1/telemetry/receive"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))
	r.Use(authMiddleware.Wrap)

	r.Method(http.MethodPost, "/api/v1/telemetry/receive", ingestHandler)
	r.Method(http.MethodGet, "/api/v1/telemetry/stream", streamHandler)
	r.Method(http.MethodGet, "/api/v1/telemetry/hub/stats", fanout.NewStatsHandler(hub))
	telemetryHandler.Routes(r)
	simHandler.Routes(r)
	r.Handle("/ws", wsHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := store.Ping(req.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return registry.RunSweeper(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	if cfg.MQTTBroker != "" {
		mqttIngest, err := telemetryapp.NewIngestService(newRecorder(ingestRepo, telemetryapp.SourceMQTT), logger, telemetryapp.WithValidator(validator))
		if err != nil {
			logger.Fatal("mqtt ingest service error", zap.Error(err))
		}
		subscriber, err := telemetrymqtt.NewSubscriber(telemetrymqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      1,
		}, mqttIngest, logger)
		if err != nil {
			logger.Fatal("mqtt subscriber error", zap.Error(err))
		}
		g.Go(func() error {
			return subscriber.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return
	}
	logger.Info("service stopped")
}

func buildNotifier(cfg config, query *telemetrypostgres.TelemetryQuery, logger *zap.Logger) *notify.Notifier {
	channel, err := notify.NewWebhookChannel(cfg.AlertWebhookURL, notify.WithTimeout(cfg.AlertWebhookTimeout))
	if err != nil {
		logger.Fatal("alert webhook error", zap.Error(err))
	}
	tpl, err := notify.NewTemplate(cfg.AlertTemplate)
	if err != nil {
		logger.Fatal("alert template error", zap.Error(err))
	}
	notifier, err := notify.NewNotifier(channel, tpl,
		notify.WithLogger(logger),
		notify.WithRequestTimeout(cfg.AlertWebhookTimeout),
		notify.WithCooldown(cfg.AlertCooldown),
		notify.WithDedupeWindow(cfg.AlertDedupeWindow),
		notify.WithLabelResolver(deviceLabelResolver(query)),
	)
	if err != nil {
		logger.Fatal("alert notifier error", zap.Error(err))
	}
	return notifier
}

func deviceLabelResolver(query *telemetrypostgres.TelemetryQuery) notify.LabelResolver {
	return func(ctx context.Context, deviceID int64) string {
		device, err := query.GetDevice(ctx, deviceID)
		if err != nil || device == nil || device.Label == "" {
			return "device " + strconv.FormatInt(deviceID, 10)
		}
		return device.Label
	}
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
