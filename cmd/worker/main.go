// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prospectgrid/prospectgrid-backend/internal/config"
	"github.com/prospectgrid/prospectgrid-backend/internal/db"
	"github.com/prospectgrid/prospectgrid-backend/internal/geo"
	"github.com/prospectgrid/prospectgrid-backend/internal/logging"
	"github.com/prospectgrid/prospectgrid-backend/internal/notify"
	"github.com/prospectgrid/prospectgrid-backend/internal/queue"
	"github.com/prospectgrid/prospectgrid-backend/internal/ratelimit"
	"github.com/prospectgrid/prospectgrid-backend/internal/repository"
	"github.com/prospectgrid/prospectgrid-backend/internal/scorer"
	"github.com/prospectgrid/prospectgrid-backend/internal/service"
	"github.com/prospectgrid/prospectgrid-backend/internal/streetview"
)

// scoreLeaseKey is shared by every worker process; the lease on it is what
// spaces scoring calls globally.
const scoreLeaseKey = "scoring_api"

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

	campaignRepo := &repository.CampaignRepository{DB: conn}
	propertyRepo := &repository.PropertyRepository{DB: conn}
	sessionRepo := &repository.SessionRepository{DB: conn}

	limiter := ratelimit.NewLimiter(
		&ratelimit.PostgresLeaseStore{DB: conn}, scoreLeaseKey, cfg.Scoring.MinInterval)

	processor := &service.Processor{
		Properties:   propertyRepo,
		Geocoder:     geo.NewGeocoder(cfg.Scoring.GoogleMapsAPIKey),
		Imagery:      streetview.NewFetcher(cfg.Scoring.GoogleMapsAPIKey),
		Scorer:       scorer.NewScorer(cfg.Scoring.GeminiAPIKey, cfg.Scoring.GeminiModel),
		Limiter:      limiter,
		Width:        cfg.Worker.ProcessingWorkers,
		RetryCount:   cfg.Worker.PropertyRetryCount,
		RetryBackoff: cfg.Scoring.MinInterval,
		Log:          log,
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.SMTP.Host != "" {
		notifier = &notify.SMTPNotifier{
			Host: cfg.SMTP.Host, Port: cfg.SMTP.Port, From: cfg.SMTP.From,
		}
	}

	runner := &service.CampaignRunner{
		Campaigns:     campaignRepo,
		Processor:     processor,
		Notifier:      notifier,
		ScoreInterval: cfg.Scoring.MinInterval,
		TimeoutMargin: cfg.Worker.JobTimeoutMargin,
		MaxAttempts:   cfg.Worker.JobMaxAttempts,
		StaleClaim:    cfg.Worker.OrphanGracePeriod,
		Log:           log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}

	var wg sync.WaitGroup

	// Each consumer loop needs its own channel so Qos(1) is honored per
	// loop: a process handles at most Concurrency campaigns at once.
	queues := make([]*queue.RabbitQueue, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		q, err := queue.NewRabbitQueue(cfg.RabbitMQ.URL, cfg.Worker.JobMaxAttempts, log)
		if err != nil {
			log.Error("queue connection failed", "error", err)
			os.Exit(1)
		}
		queues = append(queues, q)

		wg.Add(1)
		go func(id int, q *queue.RabbitQueue) {
			defer wg.Done()
			log.Info("consumer loop started", "consumer", id)
			if err := q.Consume(runner.Handle); err != nil {
				log.Error("consumer loop exited", "consumer", id, "error", err)
			}
		}(i, q)
	}

	reconciler := &service.Reconciler{
		Campaigns:   campaignRepo,
		Sessions:    sessionRepo,
		Queue:       queues[0],
		GracePeriod: cfg.Worker.OrphanGracePeriod,
		Interval:    cfg.Worker.ReconcileInterval,
		Log:         log,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Start(ctx)
	}()

	log.Info("worker running",
		"consumers", cfg.Worker.Concurrency,
		"processing_workers", cfg.Worker.ProcessingWorkers,
		"score_min_interval", cfg.Scoring.MinInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	cancel()
	for _, q := range queues {
		q.Close()
	}
	wg.Wait()
}
