// The feed gateway bridges the Redis assessment channel to socket.io so
// dashboard frontends can watch the live verdict pulse without speaking
// Redis or raw websockets.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/joho/godotenv"

	"github.com/vigilsec/riskengine/internal/config"
	"github.com/vigilsec/riskengine/internal/events"
	"github.com/vigilsec/riskengine/internal/infra"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	log.Println("🔌 Starting Vigil feed gateway...")

	redis, err := infra.NewGoRedisAdapter(cfg.Queue.BrokerURL)
	if err != nil {
		// Nothing to bridge without the feed channel.
		log.Fatalf("❌ Redis unavailable: %v", err)
	}
	defer redis.Close()

	server := socketio.NewServer(nil)

	var connected atomic.Int64
	server.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext("")
		connected.Add(1)
		log.Printf("🔗 Dashboard connected: %s", s.ID())
		return nil
	})
	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		connected.Add(-1)
		log.Printf("🔌 Dashboard disconnected: %s (%s)", s.ID(), reason)
	})
	server.OnError("/", func(s socketio.Conn, e error) {
		log.Printf("⚠️ Socket error: %v", e)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("❌ Socket.io serve failed: %v", err)
		}
	}()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var relayed atomic.Int64
	unsubscribe, err := redis.Subscribe(ctx, cfg.Stream.RedisChannel, func(payload []byte) {
		var event events.CloudEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Printf("⚠️ Dropping malformed feed message: %v", err)
			return
		}
		server.BroadcastToNamespace("/", "assessment_event", &event)
		relayed.Add(1)
	})
	if err != nil {
		log.Fatalf("❌ Failed to subscribe to %s: %v", cfg.Stream.RedisChannel, err)
	}
	defer unsubscribe()

	go reportLoop(ctx, &relayed, &connected)

	http.Handle("/socket.io/", server)
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"clients": connected.Load(),
			"relayed": relayed.Load(),
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           nil, // default mux carries /socket.io/ and /health
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("📤 Feed gateway shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️ HTTP shutdown error: %v", err)
		}
		cancel()
	}()

	log.Printf("📡 Feed gateway listening on :%s (channel: %s)", port, cfg.Stream.RedisChannel)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("❌ Feed gateway failed: %v", err)
	}
	log.Printf("Feed gateway stopped (relayed %d events)", relayed.Load())
}

func reportLoop(ctx context.Context, relayed, connected *atomic.Int64) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("📊 Feed stats: relayed=%d clients=%d", relayed.Load(), connected.Load())
		}
	}
}
