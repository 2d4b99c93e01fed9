// The vigil CLI drives the risk engine three ways: -mode demo bootstraps an
// in-process engine and replays a staged account takeover, -mode flood
// load-generates against a running API, and -mode assess submits a single
// event built from flags.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigilsec/riskengine/internal/risk"
)

const version = "1.0.0"

func main() {
	mode := flag.String("mode", "demo", "demo | flood | assess")

	// flood flags
	requests := flag.Int("requests", 500, "Number of assessments to submit")
	concurrency := flag.Int("concurrency", 16, "Concurrent submitters")

	// assess flags
	user := flag.String("user", "cli-user", "User ID")
	device := flag.String("device", "cli-device", "Device ID")
	ip := flag.String("ip", "203.0.113.7", "Client IP")
	geo := flag.String("geo", "US", "Country code")
	endpoint := flag.String("endpoint", "/profile", "Endpoint path")
	method := flag.String("method", "GET", "HTTP method")
	status := flag.Int("status", 200, "Response status code")
	service := flag.String("service", "svc-profile", "Target service")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vigil-cli v%s\n", version)
		return
	}

	switch *mode {
	case "demo":
		runDemo()
	case "flood":
		runFlood(*requests, *concurrency)
	case "assess":
		runAssess(assessInput{
			User:     *user,
			Device:   *device,
			IP:       *ip,
			Geo:      *geo,
			Endpoint: *endpoint,
			Method:   *method,
			Status:   *status,
			Service:  *service,
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode: %s\n\n", *mode)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Vigil CLI v` + version + `

Usage: vigil-cli -mode <demo|flood|assess> [flags]

Modes:
  demo      Run a staged account takeover against an in-process engine
  flood     Load-generate assessments against a running API
  assess    Submit one event built from flags

Environment:
  VIGIL_API_URL   API base URL for flood/assess (default: http://localhost:8080)
  VIGIL_API_KEY   API key, sent as a bearer token when set

Examples:
  vigil-cli -mode demo
  vigil-cli -mode flood -requests 2000 -concurrency 32
  vigil-cli -mode assess -user alice -endpoint /admin/users -geo RU`)
}

func apiURL() string {
	if u := os.Getenv("VIGIL_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// ----------------------------------------------------------------
// demo mode
// ----------------------------------------------------------------

// runDemo trains an engine on three weeks of benign browsing, lets the
// target user settle into a routine, then replays an attacker burst and
// prints every verdict.
func runDemo() {
	separator := "================================================================================"

	fmt.Println(separator)
	fmt.Println("🔥 VIGIL DEMO: staged account takeover")
	fmt.Println(separator)

	engine := risk.NewEngine(risk.DefaultEngineConfig())
	engine.BootstrapModel(benignBaselines(time.Now().UTC().Add(-21 * 24 * time.Hour)))
	fmt.Println("✅ Engine bootstrapped on benign baseline traffic")

	now := time.Now().UTC()
	victim := func(ts time.Time) risk.IdentityContext {
		return risk.IdentityContext{
			UserID:     "mallory",
			DeviceID:   "laptop-home",
			IP:         "198.51.100.23",
			Geo:        "US",
			UserAgent:  "Mozilla/5.0 (Macintosh)",
			SessionID:  "sess-morning",
			Roles:      []string{"user"},
			Privileges: []string{"read"},
			Timestamp:  ts,
		}
	}

	// Phase 1: the account owner browsing as usual.
	fmt.Println("\n--- Phase 1: normal morning traffic ---")
	for i, path := range []string{"/dashboard", "/profile", "/search", "/dashboard"} {
		ts := now.Add(time.Duration(i) * time.Minute)
		a := engine.AssessEvent(victim(ts), benignEvent(path, ts), nil)
		printVerdict(path, &a)
	}

	// Phase 2: same account, unfamiliar device and geography, reaching for
	// admin surfaces and bulk export with an in-flight privilege grant.
	fmt.Println("\n--- Phase 2: attacker takes over the session ---")
	attacker := func(ts time.Time) risk.IdentityContext {
		return risk.IdentityContext{
			UserID:     "mallory",
			DeviceID:   "vm-burner-7",
			IP:         "185.220.101.4",
			Geo:        "RO",
			UserAgent:  "curl/8.5.0",
			SessionID:  "sess-hijack",
			Roles:      []string{"user"},
			Privileges: []string{"read"},
			Timestamp:  ts,
		}
	}

	burst := []struct {
		path   string
		method string
		status int
		grant  *risk.PrivilegeChange
	}{
		{"/login", "POST", 200, nil},
		{"/admin/users", "GET", 403, nil},
		{"/elevate", "POST", 200, &risk.PrivilegeChange{
			PreviousRoles:      []string{"user"},
			NewRoles:           []string{"user", "admin"},
			PreviousPrivileges: []string{"read"},
			NewPrivileges:      []string{"read", "write", "admin"},
		}},
		{"/admin/users", "GET", 200, nil},
		{"/export/data", "GET", 200, nil},
		{"/export/data", "GET", 200, nil},
	}

	ts := now.Add(10 * time.Minute)
	for _, step := range burst {
		ts = ts.Add(2 * time.Second)
		ev := benignEvent(step.path, ts)
		ev.Method = step.method
		ev.StatusCode = step.status
		ev.BytesOut = 4 << 20
		if step.grant != nil {
			step.grant.Timestamp = ts
		}
		a := engine.AssessEvent(attacker(ts), ev, step.grant)
		printVerdict(step.path, &a)
		if a.AccountFrozen {
			break
		}
	}

	summary := engine.Summary("mallory")
	fmt.Println("\n" + separator)
	fmt.Printf("Account frozen:    %v\n", summary.Frozen)
	fmt.Printf("Active sessions:   %d\n", len(summary.ActiveSessions))
	fmt.Printf("Recent sequence:   %v\n", summary.RecentSequence)
	fmt.Println(separator)
}

func benignEvent(path string, ts time.Time) risk.ActivityEvent {
	return risk.ActivityEvent{
		Timestamp:  ts,
		Endpoint:   path,
		Method:     "GET",
		StatusCode: 200,
		LatencyMs:  80,
		BytesIn:    256,
		BytesOut:   2048,
		Service:    "svc-web",
		TraceID:    fmt.Sprintf("demo-%d", ts.UnixNano()),
	}
}

// benignBaselines builds the training corpus: ordinary browsing sessions
// with minute-scale pacing across a handful of users.
func benignBaselines(start time.Time) [][]risk.ActivityEvent {
	paths := []string{"/dashboard", "/profile", "/search", "/orders", "/settings"}
	var sequences [][]risk.ActivityEvent
	for day := 0; day < 20; day++ {
		var seq []risk.ActivityEvent
		ts := start.Add(time.Duration(day) * 24 * time.Hour)
		for i := 0; i < 8; i++ {
			ts = ts.Add(time.Duration(45+day+i) * time.Second)
			seq = append(seq, benignEvent(paths[(day+i)%len(paths)], ts))
		}
		sequences = append(sequences, seq)
	}
	return sequences
}

func printVerdict(path string, a *risk.RiskAssessment) {
	names := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		names = append(names, fmt.Sprintf("%s(%.0f)", s.Name, s.Score))
	}
	fmt.Printf("%s %-15s | score=%6.1f | %-20s | %v\n",
		actionEmoji(a.Action), a.Action, a.TotalScore, path, names)
}

func actionEmoji(action string) string {
	switch action {
	case risk.ActionFreezeAccount:
		return "🚫"
	case risk.ActionForceLogout:
		return "↩️"
	default:
		return "✅"
	}
}

// ----------------------------------------------------------------
// flood mode
// ----------------------------------------------------------------

type floodStats struct {
	total   atomic.Uint64
	failed  atomic.Uint64
	mu      sync.Mutex
	latency []time.Duration
	actions map[string]uint64
}

// runFlood replays the synthetic traffic mix against a live API and reports
// throughput, latency percentiles and the verdict breakdown.
func runFlood(requests, concurrency int) {
	target := apiURL()
	fmt.Printf("🚀 Flooding %s with %d assessments (%d workers)\n", target, requests, concurrency)

	stats := &floodStats{actions: make(map[string]uint64)}
	client := &http.Client{Timeout: 10 * time.Second}

	jobs := make(chan int, requests)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				floodOnce(client, target, n, stats)
			}
		}()
	}

	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	printFloodResults(stats, time.Since(start))
}

func floodOnce(client *http.Client, target string, n int, stats *floodStats) {
	userID := fmt.Sprintf("flood-user-%d", n%25)
	path := "/dashboard"
	statusCode := 200
	switch {
	case n%37 == 0:
		path = "/admin/users"
	case n%53 == 0:
		path = "/export/data"
	case n%29 == 0:
		statusCode = 500
	}

	now := time.Now().UTC()
	body, _ := json.Marshal(map[string]interface{}{
		"identity": risk.IdentityContext{
			UserID:     userID,
			DeviceID:   fmt.Sprintf("device-%d", n%25),
			IP:         fmt.Sprintf("10.1.%d.%d", n%200, n%250),
			Geo:        "US",
			UserAgent:  "vigil-flood/1.0",
			SessionID:  fmt.Sprintf("sess-%d", n%25),
			Roles:      []string{"user"},
			Privileges: []string{"read"},
			Timestamp:  now,
		},
		"event": risk.ActivityEvent{
			Timestamp:  now,
			Endpoint:   path,
			Method:     "GET",
			StatusCode: statusCode,
			LatencyMs:  float64(20 + n%180),
			BytesIn:    512,
			BytesOut:   int64(1024 + n%4096),
			Service:    "svc-flood",
			TraceID:    fmt.Sprintf("flood-%d", n),
		},
	})

	began := time.Now()
	resp, err := doRequest(client, "POST", target+"/assess", body)
	elapsed := time.Since(began)

	stats.total.Add(1)
	if err != nil {
		stats.failed.Add(1)
		return
	}

	var a risk.RiskAssessment
	json.Unmarshal(resp, &a)

	stats.mu.Lock()
	stats.latency = append(stats.latency, elapsed)
	stats.actions[a.Action]++
	stats.mu.Unlock()
}

func printFloodResults(stats *floodStats, took time.Duration) {
	separator := "================================================================================"
	total := stats.total.Load()
	failed := stats.failed.Load()

	stats.mu.Lock()
	defer stats.mu.Unlock()

	fmt.Println("\n" + separator)
	fmt.Println("📊 FLOOD RESULTS")
	fmt.Println(separator)
	fmt.Printf("Requests:      %d (%d failed)\n", total, failed)
	fmt.Printf("Duration:      %v\n", took.Round(time.Millisecond))
	fmt.Printf("Throughput:    %.1f req/sec\n", float64(total)/took.Seconds())
	if len(stats.latency) > 0 {
		fmt.Printf("Latency (avg): %v\n", average(stats.latency).Round(time.Microsecond))
		fmt.Printf("Latency (p95): %v\n", percentile(stats.latency, 95).Round(time.Microsecond))
		fmt.Printf("Latency (p99): %v\n", percentile(stats.latency, 99).Round(time.Microsecond))
	}
	fmt.Println("Verdicts:")
	for action, count := range stats.actions {
		fmt.Printf("  %-15s %d\n", action, count)
	}
	fmt.Println(separator)

	if failed == 0 {
		fmt.Println("✅ PASS: no failed submissions")
	} else {
		fmt.Printf("❌ FAIL: %d submissions failed\n", failed)
	}
	if p95 := percentile(stats.latency, 95); p95 > 0 && p95 < 250*time.Millisecond {
		fmt.Println("✅ PASS: p95 latency under 250ms")
	} else {
		fmt.Println("⚠️  WARN: p95 latency above 250ms")
	}
}

func average(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ----------------------------------------------------------------
// assess mode
// ----------------------------------------------------------------

type assessInput struct {
	User     string
	Device   string
	IP       string
	Geo      string
	Endpoint string
	Method   string
	Status   int
	Service  string
}

func runAssess(in assessInput) {
	now := time.Now().UTC()
	body, _ := json.Marshal(map[string]interface{}{
		"identity": risk.IdentityContext{
			UserID:     in.User,
			DeviceID:   in.Device,
			IP:         in.IP,
			Geo:        in.Geo,
			UserAgent:  "vigil-cli/" + version,
			SessionID:  fmt.Sprintf("cli-%d", now.UnixNano()%100000),
			Roles:      []string{"user"},
			Privileges: []string{"read"},
			Timestamp:  now,
		},
		"event": risk.ActivityEvent{
			Timestamp:  now,
			Endpoint:   in.Endpoint,
			Method:     in.Method,
			StatusCode: in.Status,
			LatencyMs:  50,
			BytesIn:    512,
			BytesOut:   1024,
			Service:    in.Service,
			TraceID:    fmt.Sprintf("cli-%d", now.UnixNano()),
		},
	})

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := doRequest(client, "POST", apiURL()+"/assess", body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Request failed: %v\n", err)
		os.Exit(1)
	}

	var a risk.RiskAssessment
	if err := json.Unmarshal(resp, &a); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Bad response: %v\n", err)
		os.Exit(1)
	}

	printVerdict(in.Endpoint, &a)
	if a.AccountFrozen {
		fmt.Println("🚫 Account is now frozen")
	}
	if a.SessionInvalidated {
		fmt.Println("↩️  Sessions invalidated, user must re-authenticate")
	}
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func doRequest(client *http.Client, method, url string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if apiKey := os.Getenv("VIGIL_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
