package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/evhome/wallbox-csms/config"
	"github.com/evhome/wallbox-csms/internal/api"
	"github.com/evhome/wallbox-csms/internal/db"
	"github.com/evhome/wallbox-csms/internal/metrics"
	"github.com/evhome/wallbox-csms/internal/notify"
	"github.com/evhome/wallbox-csms/internal/ocpp"
	"github.com/evhome/wallbox-csms/internal/service"
	"github.com/evhome/wallbox-csms/internal/state"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.SetupLogger()

	store := state.NewStore(float64(cfg.MaxCurrent))

	var journal *db.Journal
	if cfg.JournalEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		journal, err = db.NewJournal(ctx, cfg.GetDSN())
		cancel()
		if err != nil {
			log.WithError(err).Fatal("Failed to connect charge journal")
		}
		defer journal.Close()
	}

	centralSystem := ocpp.NewCentralSystem(cfg, store, journal)
	if err := centralSystem.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start central system")
	}
	defer centralSystem.Stop()

	charger := service.NewCharger(store, centralSystem, journal, float64(cfg.MaxCurrent), cfg.NukeAllowed)

	metrics.RegisterStateGauges(func() (float64, float64, float64) {
		snap := store.Snapshot()
		total := 0.0
		if snap.EnergyTotalKWh != nil {
			total = *snap.EnergyTotalKWh
		}
		return snap.PowerW, total, snap.CurrentLimitA
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NATSURL != "" {
		bridge, err := notify.NewBridge(cfg.NATSURL, store, charger)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect NATS bridge")
		}
		defer bridge.Close()
		go func() {
			if err := bridge.Run(rootCtx); err != nil && err != context.Canceled {
				log.WithError(err).Error("NATS bridge stopped")
			}
		}()
	}

	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: api.NewRouter(store, charger),
	}
	go func() {
		log.WithField("port", cfg.APIPort).Info("Starting API server")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}

	log.Info("Shutdown complete")
}
