// Command sanctuaryd runs the Sanctuary identity & resurrection service:
// the challenge/response auth surface, the encrypted snapshot store, the
// agent registry and lifecycle machine, the attestation & trust engine,
// and the background maintenance scheduler.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suebtwist/sanctuary-sub000/internal/authproto"
	"github.com/suebtwist/sanctuary-sub000/internal/config"
	"github.com/suebtwist/sanctuary-sub000/internal/httpapi"
	"github.com/suebtwist/sanctuary-sub000/internal/ledger"
	"github.com/suebtwist/sanctuary-sub000/internal/objectstore"
	"github.com/suebtwist/sanctuary-sub000/internal/registry"
	"github.com/suebtwist/sanctuary-sub000/internal/scheduler"
	"github.com/suebtwist/sanctuary-sub000/internal/singleflight"
	"github.com/suebtwist/sanctuary-sub000/internal/snapshotstore"
	"github.com/suebtwist/sanctuary-sub000/internal/storage"
	"github.com/suebtwist/sanctuary-sub000/internal/trust"
)

func main() {
	logger := log.New(os.Stdout, "[Sanctuary] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: the single source of truth.
	db, err := storage.NewClient(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(ctx); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	agentRepo := storage.NewAgentRepository(db)
	snapshotRepo := storage.NewSnapshotRepository(db)
	challengeRepo := storage.NewChallengeRepository(db)
	attestationRepo := storage.NewAttestationRepository(db)
	heartbeatRepo := storage.NewHeartbeatRepository(db)
	trustScoreRepo := storage.NewTrustScoreRepository(db)
	trustFacts := storage.NewTrustFacts(db)

	// External collaborators.
	objects, err := objectstore.NewDir(cfg.ObjectStoreDir)
	if err != nil {
		logger.Fatalf("Failed to open object store: %v", err)
	}

	txStore := ledger.NewTxStore(ledger.NewMemoryKV())
	var relay trust.Ledger
	if cfg.LedgerEndpoint != "" {
		relay = ledger.NewHTTPRelay(cfg.LedgerEndpoint, txStore)
		logger.Printf("Attestation relay: %s", cfg.LedgerEndpoint)
	} else {
		relay = ledger.NewSimulatedRelay(txStore)
		logger.Println("Attestation relay: simulated (no SANCTUARY_LEDGER_ENDPOINT)")
	}

	// Core services, leaves first.
	authSvc := authproto.NewService(challengeRepo, cfg.ChallengeTTL, cfg.BearerTTL,
		[]byte(cfg.BearerSigningKey))
	registrySvc := registry.NewService(agentRepo, heartbeatRepo, cfg.ResurrectionsPerHour)
	heartbeatSvc := registry.NewHeartbeatService(heartbeatRepo)
	trustEngine := trust.NewEngine(trustFacts, attestationRepo, trustScoreRepo, relay,
		cfg.AttestationCooldown)

	sched := scheduler.New(authSvc, heartbeatRepo, trustEngine, registrySvc, &scheduler.Config{
		ChallengeExpiryInterval: cfg.ChallengeExpiryInterval,
		HeartbeatPruneInterval:  cfg.HeartbeatPruneInterval,
		TrustSweepInterval:      cfg.TrustSweepInterval,
		FallenSweepInterval:     cfg.FallenSweepInterval,
		HeartbeatRetention:      time.Duration(cfg.HeartbeatRetentionDays) * 24 * time.Hour,
		FallenThreshold:         cfg.FallenThreshold,
		BackoffBase:             time.Second,
		BackoffCap:              cfg.SchedulerBackoffCap,
	})

	snapshotSvc := snapshotstore.NewService(snapshotRepo, registrySvc, objects, sched,
		cfg.MaxSnapshotBytes, cfg.DailyUploadWindow)

	sf := &singleflight.Group{}
	statusSvc := registry.NewStatusService(registrySvc, snapshotSvc, trustEngine)
	resurrectSvc := registry.NewResurrectionService(registrySvc, snapshotSvc, trustEngine,
		sf, cfg.ResurrectionsPerHour)

	sched.Start(ctx)
	defer sched.Stop()

	api := httpapi.NewServer(httpapi.Config{
		Auth:        authSvc,
		Registry:    registrySvc,
		Status:      statusSvc,
		Resurrect:   resurrectSvc,
		Snapshots:   snapshotSvc,
		Trust:       trustEngine,
		Heartbeats:  heartbeatSvc,
		DB:          db,
		MaxBodySize: cfg.MaxSnapshotBytes,
	})

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Printf("API listening on %s", cfg.ListenAddr)
		errCh <- apiServer.ListenAndServe()
	}()
	go func() {
		logger.Printf("Metrics listening on %s", cfg.MetricsAddr)
		errCh <- metricsServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		logger.Printf("Server error: %v", err)
	}

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("API shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Metrics shutdown error: %v", err)
	}
	logger.Println("Shutdown complete")
}
