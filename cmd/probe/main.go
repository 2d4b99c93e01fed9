// The probe tails the kernel activity tap (or a synthetic generator when no
// BPF object is configured) and submits each record to the assessment API.
// Records are fanned out through a fixed worker group with a bounded queue;
// when the API cannot keep up, records are dropped rather than stalling the
// ring buffer consumer.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vigilsec/riskengine/internal/circuitbreaker"
	"github.com/vigilsec/riskengine/internal/identity"
	"github.com/vigilsec/riskengine/internal/ringbuf"
)

const (
	maxWorkers     = 8
	bufferCapacity = 1000
	submitTimeout  = 5 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment as-is")
	}

	apiURL := os.Getenv("VIGIL_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	reader, err := ringbuf.NewReader(os.Getenv("VIGIL_BPF_OBJECT"))
	if err != nil {
		slog.Error("Failed to open activity tap", "error", err)
		os.Exit(1)
	}
	defer reader.Close()

	client := buildClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := reader.Start(ctx)
	slog.Info("Probe started", "api", apiURL, "mock_mode", reader.MockMode())

	sub := newSubmitter(client, apiURL)
	sub.start(maxWorkers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutting down probe")
		cancel()
		reader.Close()
	}()

	go sub.reportLoop(ctx)

	for rec := range records {
		// The tap sees anonymous traffic too; nothing to assess without a
		// resolved user.
		if rec.UserID == "" {
			continue
		}
		select {
		case sub.pending <- rec:
		default:
			sub.dropped.Add(1)
		}
	}

	close(sub.pending)
	sub.wg.Wait()
	slog.Info("Probe stopped", "submitted", sub.submitted.Load(), "dropped", sub.dropped.Load())
}

// buildClient returns an mTLS client when a SPIRE agent is configured, a
// plain one otherwise.
func buildClient() *http.Client {
	socket := os.Getenv("SPIFFE_ENDPOINT_SOCKET")
	if socket == "" {
		return &http.Client{Timeout: submitTimeout}
	}

	wi, err := identity.NewWorkloadIdentity(socket)
	if err != nil {
		slog.Warn("SPIRE agent unreachable, submitting without mTLS", "error", err)
		return &http.Client{Timeout: submitTimeout}
	}

	mtlsClient, err := wi.HTTPClient(submitTimeout, os.Getenv("VIGIL_TRUST_DOMAIN"))
	if err != nil {
		slog.Warn("mTLS client config failed, submitting without mTLS", "error", err)
		wi.Close()
		return &http.Client{Timeout: submitTimeout}
	}

	if id, err := wi.SpiffeID(); err == nil {
		slog.Info("Probe workload identity attested", "spiffe_id", id)
	}
	return mtlsClient
}

// submitter posts activity records to the assessment API through a fixed
// worker group. A circuit breaker sheds records fast while the API is down
// instead of burning every worker on connect timeouts.
type submitter struct {
	client    *http.Client
	apiURL    string
	breaker   *circuitbreaker.Breaker
	pending   chan *ringbuf.ActivityRecord
	wg        sync.WaitGroup
	submitted atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

func newSubmitter(client *http.Client, apiURL string) *submitter {
	cfg := circuitbreaker.DefaultConfig("assess-api")
	cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		slog.Warn("Submission breaker moved", "breaker", name, "from", from.String(), "to", to.String())
	}

	return &submitter{
		client:  client,
		apiURL:  apiURL,
		breaker: circuitbreaker.New(cfg),
		pending: make(chan *ringbuf.ActivityRecord, bufferCapacity),
	}
}

func (s *submitter) start(workers int) {
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *submitter) worker() {
	defer s.wg.Done()
	for rec := range s.pending {
		err := s.breaker.Do(func() error { return s.post(rec) })
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
			s.dropped.Add(1)
		case err != nil:
			s.failed.Add(1)
			slog.Warn("Submit failed", "path", rec.Path, "user_id", rec.UserID, "error", err)
		default:
			s.submitted.Add(1)
		}
	}
}

func (s *submitter) post(rec *ringbuf.ActivityRecord) error {
	payload, err := json.Marshal(map[string]interface{}{
		"identity": rec.Identity(),
		"event":    rec.Event(),
	})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	resp, err := s.client.Post(s.apiURL+"/assess", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned %d", resp.StatusCode)
	}
	return nil
}

// reportLoop logs throughput counters until the probe stops.
func (s *submitter) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("Probe throughput",
				"submitted", s.submitted.Load(),
				"failed", s.failed.Load(),
				"dropped", s.dropped.Load(),
				"backlog", len(s.pending),
				"breaker", s.breaker.State().String())
		}
	}
}
