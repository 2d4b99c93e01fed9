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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilsec/riskengine/internal/config"
	"github.com/vigilsec/riskengine/internal/events"
	"github.com/vigilsec/riskengine/internal/infra"
	"github.com/vigilsec/riskengine/internal/metrics"
	"github.com/vigilsec/riskengine/internal/risk"
	"github.com/vigilsec/riskengine/internal/store"
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

	log.Println("👷 Starting Vigil assessment worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()

	// Each worker replica scores from its own observed history.
	engine := risk.NewEngine(cfg.Engine.EngineConfig())

	// The worker is pointless without its queue.
	redisAdapter, err := infra.NewGoRedisAdapter(cfg.Queue.BrokerURL)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer redisAdapter.Close()

	broker := tasks.NewBroker(redisAdapter)

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
	results := tasks.NewResultBackend(resultAdapter)

	records, err := store.New(store.Config{
		Backend:  cfg.Store.Backend,
		URI:      cfg.Store.URI,
		Database: cfg.Store.Database,
	})
	if err != nil {
		log.Fatalf("Failed to open assessment store: %v", err)
	}
	defer records.Close()

	// Event bus, mirrored to Pub/Sub when configured, bridged to Redis so
	// the API's stream subscribers see worker assessments.
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
	bridge := events.NewRedisBridge(localBus, redisAdapter, cfg.Stream.RedisChannel, events.SourceWorker)
	if err := bridge.Start(ctx); err != nil {
		log.Printf("⚠️  Event feed bridge failed to start: %v", err)
	} else {
		defer bridge.Close()
	}

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

	pool := tasks.NewPool(tasks.PoolConfig{
		Workers:  cfg.Queue.WorkerCount,
		Engine:   engine,
		Broker:   broker,
		Results:  results,
		Store:    records,
		Webhooks: notifier,
		Events:   emitter,
		Observer: m,
		Source:   events.SourceWorker,
	})
	pool.Start(ctx)

	// Health and metrics sidecar port for the scheduler.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           workerMux(broker),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("📡 Worker health endpoint on :%s", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️  Health endpoint failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, draining workers...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	httpSrv.Shutdown(shutdownCtx)

	cancel()
	pool.Wait()
	log.Println("Worker stopped")
}

// workerMux serves liveness and Prometheus metrics.
func workerMux(broker *tasks.Broker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if _, err := broker.Depth(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","broker":"unreachable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
