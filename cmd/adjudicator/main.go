package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"claims_adjudicator/internal/api"
	"claims_adjudicator/internal/clock"
	"claims_adjudicator/internal/config"
	"claims_adjudicator/internal/consensus"
	"claims_adjudicator/internal/emergency"
	"claims_adjudicator/internal/jury"
	"claims_adjudicator/internal/ledger"
	"claims_adjudicator/internal/payout"
	"claims_adjudicator/internal/processor"
	"claims_adjudicator/internal/repository"
	"claims_adjudicator/internal/repository/memory"
	"claims_adjudicator/internal/repository/pebble"
	"claims_adjudicator/internal/repository/postgres"
	"claims_adjudicator/internal/reputation"
	"claims_adjudicator/internal/risk"
	"claims_adjudicator/internal/service"
	"claims_adjudicator/pkg/crypto"
	"claims_adjudicator/pkg/metrics"
	"claims_adjudicator/pkg/validator"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
)

const (
	appName           = "claims_adjudicator"
	defaultConfigPath = "configs/adjudicator.yaml"
)

func main() {
	configPath := os.Getenv("ADJ_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Server.LogLevel)
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("storage", cfg.Storage.Backend))

	ctx := context.Background()
	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := app.tracker.Resume(ctx); err != nil {
		logger.Error("Resuming review sessions failed", slog.String("error", err.Error()))
	}

	metricsServer := app.metrics.StartMetricsServer(cfg.Server.MetricsAddr)
	httpServer := startHTTPServer(cfg.Server.HTTPAddr, app.handler, logger)
	grpcServer := startLedgerServer(cfg.Server.LedgerGRPCAddr, app.ledger, logger)

	waitForShutdown(logger, cfg.Server.ShutdownTimeout, httpServer, metricsServer, grpcServer, app)
	logger.Info("Application shutdown complete")
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

type application struct {
	handler    *api.APIHandler
	tracker    *consensus.Tracker
	metrics    *metrics.MetricsCollector
	dispatcher *service.EventDispatcher
	ledger     ledger.Service
	closers    []func() error
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{metrics: metrics.NewMetricsCollector(logger)}
	clk := clock.Real{}

	publisher, err := setupPublisher(cfg, logger, app)
	if err != nil {
		return nil, err
	}
	app.dispatcher = service.NewEventDispatcher(publisher, cfg.Events.Workers, cfg.Events.QueueSize, logger)

	claims := memory.NewClaimRepository()
	validators := memory.NewValidatorRepository()
	sessions := memory.NewSessionRepository()
	rules := memory.NewRuleRepository()
	var assessments repository.AssessmentRepository = memory.NewAssessmentRepository()
	var payouts repository.PayoutRepository = memory.NewPayoutRepository()

	switch cfg.Storage.Backend {
	case config.BackendPebble:
		store, err := pebble.Open(cfg.Storage.PebblePath, nil)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
		assessments = store
	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, cfg.Storage.PostgresURL, cfg.Storage.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			app.closers = append(app.closers, sqlDB.Close)
		}
		payouts = postgres.NewPayoutRepository(db)
	}

	signer := crypto.NewSigner(cfg.Security.SigningSecret, logger)
	app.ledger, err = setupLedger(cfg, signer, app)
	if err != nil {
		return nil, err
	}

	fund := emergency.NewMonitor(claims, cfg.EmergencyMonitor(), clk, app.dispatcher, logger)
	repLedger := reputation.NewLedger(validators, cfg.ReputationLedger(), clk, app.dispatcher, logger)
	app.tracker = consensus.NewTracker(sessions, repLedger, setupGuard(cfg, app, logger), clk, cfg.ConsensusTracker(), app.dispatcher, logger)

	proc := processor.NewClaimProcessor(processor.Dependencies{
		Claims:      claims,
		Assessments: assessments,
		Payouts:     payouts,
		Scorer:      risk.NewScorer(assessments, clk, logger),
		Rules:       processor.NewRuleEngine(rules, app.dispatcher, logger),
		Selector:    jury.NewSelector(validators, jury.NewRepositoryClaimLookup(claims), setupRelationships(cfg, logger), cfg.JurySelector(), clk, logger),
		Tracker:     app.tracker,
		Engine:      payout.NewEngine(fund, cfg.PayoutEngine(), clk, logger),
		Executor:    payout.NewExecutor(payouts, app.ledger, signer, fund, clk, app.dispatcher, logger),
		Validator:   validator.NewClaimValidator(cfg.MaxClaimAmount()),
		Metrics:     app.metrics,
		Events:      app.dispatcher,
		Clock:       clk,
	}, logger)

	tokens := crypto.NewTokenIssuer(cfg.Security.AdminTokenSecret, cfg.Security.TokenIssuer)
	app.handler = api.NewAPIHandler(proc, repLedger, fund, tokens, app.metrics, logger)
	return app, nil
}

func setupPublisher(cfg config.Config, logger *slog.Logger, app *application) (service.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return service.NewLogPublisher(logger), nil
	}
	kp, err := service.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.DefaultTopic, cfg.Kafka.Topics)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, kp.Close)
	logger.Info("Publishing events to kafka", slog.String("brokers", strings.Join(cfg.Kafka.Brokers, ",")))
	return kp, nil
}

func setupLedger(cfg config.Config, signer *crypto.Signer, app *application) (ledger.Service, error) {
	if cfg.Ledger.Endpoint == "" {
		return ledger.NewMemory(signer), nil
	}
	client, err := ledger.Dial(cfg.Ledger.Endpoint)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, client.Close)
	return client, nil
}

func setupGuard(cfg config.Config, app *application, logger *slog.Logger) consensus.FinalizeGuard {
	if cfg.Redis.URL == "" {
		return consensus.NewLocalGuard()
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Warn("Invalid redis url, finalizing sessions locally", slog.String("error", err.Error()))
		return consensus.NewLocalGuard()
	}
	client := redis.NewClient(opts)
	app.closers = append(app.closers, client.Close)
	host, _ := os.Hostname()
	return consensus.NewRedisGuard(client, fmt.Sprintf("%s-%d", host, os.Getpid()), cfg.Redis.GuardTTL)
}

func setupRelationships(cfg config.Config, logger *slog.Logger) jury.RelationshipLookup {
	rel := cfg.Relationships()
	if rel == nil {
		logger.Warn("No known relationships configured, juror conflict-of-interest check on shared transactions is disabled")
		return nil
	}
	logger.Info("Loaded known relationships", slog.Int("pairs", len(cfg.Jury.KnownRelationships)))
	return rel
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      apiHandler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

// startLedgerServer serves the in-process ledger over gRPC when an address is set.
func startLedgerServer(addr string, svc ledger.Service, logger *slog.Logger) *grpc.Server {
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("Ledger listener failed", slog.String("addr", addr), slog.String("error", err.Error()))
		return nil
	}
	server := grpc.NewServer()
	ledger.Register(server, ledger.NewServer(svc))

	go func() {
		logger.Info("Starting ledger gRPC server", slog.String("addr", addr))
		if err := server.Serve(lis); err != nil {
			logger.Error("Ledger gRPC server failed", slog.String("error", err.Error()))
		}
	}()
	return server
}

func waitForShutdown(
	logger *slog.Logger,
	timeout time.Duration,
	httpServer *http.Server,
	metricsServer *http.Server,
	grpcServer *grpc.Server,
	app *application,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	app.tracker.Close()

	if err := app.dispatcher.Shutdown(ctx); err != nil {
		logger.Error("Event dispatcher shutdown failed", slog.String("error", err.Error()))
	}
	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			logger.Error("Resource close failed", slog.String("error", err.Error()))
		}
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}
	if err := app.metrics.Shutdown(ctx); err != nil {
		logger.Error("Metrics collector shutdown failed", slog.String("error", err.Error()))
	}
}
