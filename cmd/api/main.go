package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vigilsec/riskengine/internal/api"
	"github.com/vigilsec/riskengine/internal/config"
	"github.com/vigilsec/riskengine/internal/events"
	"github.com/vigilsec/riskengine/internal/infra"
	"github.com/vigilsec/riskengine/internal/metrics"
	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/store"
	"github.com/vigilsec/riskengine/internal/stream"
	"github.com/vigilsec/riskengine/internal/tasks"
	"github.com/vigilsec/riskengine/internal/webhooks"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Println("🔥 Starting Vigil assessment API...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()

	// Risk engine. Detector state is process-local; the attack predictor
	// trains itself from live traffic.
	engine := risk.NewEngine(cfg.Engine.EngineConfig())

	// Event bus: always in-memory, mirrored to Pub/Sub when configured.
	localBus := events.NewEventBus()
	var emitter events.EventEmitter = localBus
	if cfg.Events.PubSubProject != "" {
		pubsubBus, err := events.NewPubSubEventBus(cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		if err != nil {
			log.Printf("⚠️  Pub/Sub unavailable, events stay in-process: %v", err)
		} else {
			localBus = pubsubBus.EventBus
			emitter = pubsubBus
			defer pubsubBus.Close()
		}
	}

	// Redis carries the task queue, the result backend and the cross-process
	// event feed. Without it the API still serves synchronous assessments.
	var broker *tasks.Broker
	var results *tasks.ResultBackend
	redisAdapter, err := infra.NewGoRedisAdapter(cfg.Queue.BrokerURL)
	if err != nil {
		log.Printf("⚠️  Redis unavailable, async assessment disabled: %v", err)
	} else {
		defer redisAdapter.Close()
		broker = tasks.NewBroker(redisAdapter)

		resultAdapter := redisAdapter
		if cfg.Queue.ResultBackendURL != cfg.Queue.BrokerURL {
			separate, err := infra.NewGoRedisAdapter(cfg.Queue.ResultBackendURL)
			if err != nil {
				log.Printf("⚠️  Result backend unreachable, falling back to broker: %v", err)
			} else {
				defer separate.Close()
				resultAdapter = separate
			}
		}
		results = tasks.NewResultBackend(resultAdapter)

		bridge := events.NewRedisBridge(localBus, redisAdapter, cfg.Stream.RedisChannel, events.SourceAPI)
		if err := bridge.Start(ctx); err != nil {
			log.Printf("⚠️  Event feed bridge failed to start: %v", err)
		} else {
			defer bridge.Close()
		}
	}

	// Assessment records, for task-status fallback and account history.
	records, err := store.New(store.Config{
		Backend:  cfg.Store.Backend,
		URI:      cfg.Store.URI,
		Database: cfg.Store.Database,
	})
	if err != nil {
		log.Fatalf("Failed to open assessment store: %v", err)
	}
	defer records.Close()

	// Webhook fan-out: Cloud Tasks when configured, in-process otherwise.
	registry := webhooks.NewRegistry()
	var notifier webhooks.WebhookEmitter
	if cfg.Webhooks.CloudTasksProject != "" {
		cloud, err := webhooks.NewCloudDispatcher(
			registry,
			cfg.Webhooks.CloudTasksProject,
			cfg.Webhooks.CloudTasksLocation,
			cfg.Webhooks.CloudTasksQueue,
			cfg.Webhooks.Workers,
		)
		if err != nil {
			log.Printf("⚠️  Cloud Tasks unavailable, using in-process dispatcher: %v", err)
		} else {
			cloud.SetOutcomeHook(m.RecordWebhookDelivery)
			notifier = cloud
		}
	}
	if notifier == nil {
		dispatcher := webhooks.NewDispatcher(registry, cfg.Webhooks.Workers)
		dispatcher.SetOutcomeHook(m.RecordWebhookDelivery)
		notifier = dispatcher
	}
	defer notifier.Shutdown()

	if cfg.Webhooks.DefaultURL != "" {
		if _, err := registry.RegisterDefault(cfg.Webhooks.DefaultURL, cfg.Webhooks.SigningSecret); err != nil {
			log.Printf("⚠️  Default webhook rejected: %v", err)
		}
	}

	// Live websocket feed.
	hub := stream.NewHub(localBus)
	hub.SetClientGauge(m.StreamClients)
	go hub.Run(ctx)

	// Queue depth gauge.
	if broker != nil {
		go pollQueueDepth(ctx, broker, m)
	}

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Engine:   engine,
		Broker:   broker,
		Results:  results,
		Store:    records,
		Registry: registry,
		Webhooks: notifier,
		Bus:      emitter,
		Hub:      hub,
		Metrics:  m,
	})

	// Graceful shutdown on SIGTERM/SIGINT.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		cancel()
	}()

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// pollQueueDepth keeps the backlog gauge current.
func pollQueueDepth(ctx context.Context, broker *tasks.Broker, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			depth, err := broker.Depth(pollCtx)
			cancel()
			if err == nil {
				m.SetQueueDepth(depth)
			}
		}
	}
}
