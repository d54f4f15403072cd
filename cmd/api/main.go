package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sidverma/settlecore/internal/api"
	"github.com/sidverma/settlecore/internal/config"
	"github.com/sidverma/settlecore/internal/ledger"
	"github.com/sidverma/settlecore/internal/notify"
	"github.com/sidverma/settlecore/internal/service"
	"github.com/sidverma/settlecore/internal/store"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	db, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer db.Close()

	coreClient := ledger.New(cfg.CoreBaseURL, cfg.CoreUser, cfg.CorePassword, cfg.CoreTenantID, cfg.CoreTimeout)
	hub := notify.NewHub(32, log)

	transfers := service.NewTransferService(db, coreClient, hub, cfg.ClearingAccountRef, cfg.SettleInitialDelay, log)
	settler := service.NewSettler(db, coreClient, hub, cfg.ClearingAccountRef, cfg.SettleBaseDelay, cfg.SettleMaxAttempts, cfg.SettlePollEvery, log)
	reconciler := service.NewReconciler(db, coreClient, cfg.ReconcileTolerance, cfg.ReconcileEvery, log)
	syncWorker := service.NewSyncWorker(db, coreClient, cfg.SyncPollEvery, cfg.SyncBatchSize, cfg.SyncMaxAttempts, log)

	handler := api.NewHandler(transfers, db, syncWorker, notify.NewWSHandler(hub, log), log)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(api.RequireIdentity)
	apiV1.HandleFunc("/accounts", handler.ListAccountsHandler).Methods("GET")
	apiV1.HandleFunc("/transactions", handler.ListTransactionsHandler).Methods("GET")
	apiV1.HandleFunc("/transfers", handler.CreateTransferHandler).Methods("POST")
	apiV1.HandleFunc("/sync", handler.TriggerSyncHandler).Methods("POST")
	apiV1.HandleFunc("/events", handler.EventsHandler).Methods("GET")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var workers sync.WaitGroup
	runWorker := func(name string, fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			log.Info().Str("worker", name).Msg("worker started")
			fn(ctx)
			log.Info().Str("worker", name).Msg("worker stopped")
		}()
	}
	runWorker("settler", settler.Run)
	runWorker("reconciler", reconciler.RunEvery)
	runWorker("sync", syncWorker.Run)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	// Workers exit between polling cycles; in-flight settlement attempts
	// run on detached contexts and finish first.
	workers.Wait()
	log.Info().Msg("shutdown complete")
}
