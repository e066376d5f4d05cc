package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadcast/broker"
	"leadcast/config"
	"leadcast/db"
	"leadcast/distribution"
	"leadcast/gateway"
	"leadcast/httpapi"
	"leadcast/notify"
	"leadcast/reply"
	"leadcast/scheduler"
	"leadcast/target"
	"leadcast/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("LEADCAST_CONFIG_DIR"))
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer shutdownTelemetry()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	var (
		messenger gateway.Messenger
		publisher notify.Publisher
	)
	switch cfg.Gateway.Kind {
	case "amqp":
		m, err := gateway.NewAMQPMessenger(cfg.Gateway.URL, cfg.Gateway.Exchange)
		if err != nil {
			log.Fatalf("connect messaging gateway: %v", err)
		}
		defer m.Close()
		messenger, publisher = m, m
	default:
		m := gateway.NewLogMessenger()
		messenger, publisher = m, m
	}

	brokerRepo := broker.NewRepository(pool)
	targetRepo := target.NewRepository(pool)
	queueRepo := distribution.NewQueueRepository(pool)
	offerRepo := distribution.NewOfferRepository(pool)
	settingsRepo := distribution.NewSettingsRepository(pool)
	notifier := notify.NewOutboxNotifier(pool)

	// Fail fast when the settings row is absent; running with defaulted
	// timeouts is worse than not running.
	if _, err := settingsRepo.Load(ctx); err != nil {
		log.Fatalf("load distribution settings: %v", err)
	}

	orch := distribution.NewOrchestrator(
		pool, queueRepo, offerRepo, targetRepo, brokerRepo, settingsRepo, messenger, notifier,
	)
	resolver := distribution.NewResolver(
		offerRepo, brokerRepo, reply.NewKeywordClassifier(), messenger, orch,
	)
	reaper := distribution.NewReaper(offerRepo, orch)
	relay := notify.NewRelay(notify.NewRepository(pool), publisher)

	go scheduler.Run(ctx, "timeout-reaper", cfg.ReaperInterval, reaper.Run)
	go scheduler.Run(ctx, "outbox-relay", cfg.RelayInterval, relay.Run)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.New(httpapi.Config{
			Orchestrator: orch,
			Resolver:     resolver,
			Queue:        queueRepo,
			Offers:       offerRepo,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("leadcast api listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server: %v", err)
	}
}
