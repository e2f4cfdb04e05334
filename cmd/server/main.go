// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prospectgrid/prospectgrid-backend/internal/config"
	"github.com/prospectgrid/prospectgrid-backend/internal/db"
	"github.com/prospectgrid/prospectgrid-backend/internal/handler"
	"github.com/prospectgrid/prospectgrid-backend/internal/logging"
	"github.com/prospectgrid/prospectgrid-backend/internal/payment"
	"github.com/prospectgrid/prospectgrid-backend/internal/queue"
	"github.com/prospectgrid/prospectgrid-backend/internal/repository"
	"github.com/prospectgrid/prospectgrid-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error").Error("configuration error", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	conn, err := db.Open(cfg.Database.URL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	if err := db.Migrate(conn); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

	jobQueue, err := queue.NewRabbitQueue(cfg.RabbitMQ.URL, cfg.Worker.JobMaxAttempts, log)
	if err != nil {
		log.Error("queue connection failed", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	payments := payment.NewStripeProvider(
		cfg.Stripe.SecretKey, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL)

	svc := &service.CampaignService{
		CampaignRepo: &repository.CampaignRepository{DB: conn},
		PropertyRepo: &repository.PropertyRepository{DB: conn},
		SessionRepo:  &repository.SessionRepository{DB: conn},
		Payments:     payments,
		Queue:        jobQueue,
		Maintenance:  func() bool { return cfg.MaintenanceMode },
		Log:          log,
	}

	api := &handler.APIHandler{Service: svc, Payments: payments, Log: log}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api server listening", "port", cfg.Port, "maintenance", cfg.MaintenanceMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}
