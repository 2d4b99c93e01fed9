// Package ringbuf consumes activity records from the pre-compiled eBPF tap.
// The tap program itself is attached out of band (init container or
// bpftool); this process only loads the object and drains its ring buffer.
// Without a BPF object the reader runs in mock mode and emits synthetic
// traffic so the rest of the pipeline can be exercised on any machine.
package ringbuf

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/cilium/ebpf"
	ebpfringbuf "github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// syntheticInterval is the tick of the mock traffic generator.
var syntheticInterval = 150 * time.Millisecond

type tapObjects struct {
	Events *ebpf.Map `ebpf:"events"`
}

// Reader drains activity records from the kernel tap.
type Reader struct {
	objs   *tapObjects
	ring   *ebpfringbuf.Reader
	logger *log.Logger
}

// NewReader loads the pre-compiled tap object at objectPath and opens its
// ring buffer. An empty path selects mock mode.
func NewReader(objectPath string) (*Reader, error) {
	r := &Reader{logger: log.New(log.Writer(), "[Tap] ", log.LstdFlags)}
	if objectPath == "" {
		return r, nil
	}

	// Allow RLIMIT_MEMLOCK for map creation
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("failed to remove memlock: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return nil, fmt.Errorf("load eBPF spec: %w", err)
	}

	objs := &tapObjects{}
	if err := spec.LoadAndAssign(objs, nil); err != nil {
		return nil, fmt.Errorf("load eBPF objects: %w", err)
	}

	ring, err := ebpfringbuf.NewReader(objs.Events)
	if err != nil {
		objs.Events.Close()
		return nil, fmt.Errorf("open ring buffer: %w", err)
	}

	r.objs = objs
	r.ring = ring
	return r, nil
}

// MockMode reports whether the reader generates synthetic traffic.
func (r *Reader) MockMode() bool {
	return r.ring == nil
}

// Start begins draining records. The returned channel closes when ctx is
// cancelled or the ring buffer is closed.
func (r *Reader) Start(ctx context.Context) <-chan *ActivityRecord {
	out := make(chan *ActivityRecord, 256)

	if r.ring == nil {
		r.logger.Println("⚠️  No BPF ring buffer attached (Mock Mode)")
		go r.generateSynthetic(ctx, out)
		return out
	}

	r.logger.Println("🔌 Kernel tap: consuming activity ring buffer")
	go r.consume(ctx, out)
	return out
}

// Close releases the ring buffer and map. It unblocks a pending read.
func (r *Reader) Close() {
	if r.ring != nil {
		r.ring.Close()
	}
	if r.objs != nil {
		r.objs.Events.Close()
	}
}

func (r *Reader) consume(ctx context.Context, out chan<- *ActivityRecord) {
	defer close(out)

	for {
		record, err := r.ring.Read()
		if err != nil {
			if errors.Is(err, ebpfringbuf.ErrClosed) {
				return
			}
			r.logger.Printf("⚠️  Ring buffer read error: %v", err)
			continue
		}

		rec, err := DecodeRecord(record.RawSample)
		if err != nil {
			r.logger.Printf("⚠️  Dropping malformed record: %v", err)
			continue
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}

// generateSynthetic emits plausible traffic for a handful of users, with an
// occasional admin-surface hit and error response mixed in.
func (r *Reader) generateSynthetic(ctx context.Context, out chan<- *ActivityRecord) {
	defer close(out)

	users := []string{"user-1", "user-2", "user-3", "user-4", "user-5"}
	endpoints := []string{"/profile", "/orders", "/search", "/cart", "/checkout", "/settings"}
	services := []string{"svc-profile", "svc-orders", "svc-search", "svc-cart"}
	methods := []string{"GET", "GET", "GET", "POST", "PUT"}

	ticker := time.NewTicker(syntheticInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		i := rand.Intn(len(users))
		endpoint := endpoints[rand.Intn(len(endpoints))]
		if rand.Float64() < 0.05 {
			endpoint = "/admin/users"
		}
		status := 200
		if rand.Float64() < 0.03 {
			status = 500
		}
		bytesOut := int64(rand.Intn(64 * 1024))
		if rand.Float64() < 0.02 {
			bytesOut = int64(2_000_000 + rand.Intn(3_000_000))
		}

		rec := &ActivityRecord{
			Timestamp: time.Now().UTC(),
			IP:        fmt.Sprintf("10.0.0.%d", i+1),
			Method:    methods[rand.Intn(len(methods))],
			Path:      endpoint,
			Service:   services[rand.Intn(len(services))],
			UserID:    users[i],
			LatencyMs: 20 + rand.Float64()*180,
			Status:    status,
			BytesOut:  bytesOut,
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}
