package ringbuf

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/vigilsec/riskengine/internal/risk"
)

// headerLen is the fixed portion of a tap record.
const headerLen = 36

// ActivityRecord is one decoded request observation from the kernel tap.
type ActivityRecord struct {
	Timestamp time.Time
	IP        string
	Method    string
	Path      string
	Service   string
	UserID    string
	LatencyMs float64
	Status    int
	BytesOut  int64
}

// DecodeRecord parses one raw ring buffer sample.
//
// Record layout written by activity_tap.bpf.c (packed, little endian except
// src_ip which stays in network byte order):
//
//	u64 ts_ns          event timestamp (CLOCK_REALTIME)
//	u32 latency_us
//	u32 status
//	u64 bytes_out
//	u8  src_ip[4]
//	u16 method_len
//	u16 path_len
//	u16 service_len
//	u16 user_len
//	u8  data[]         method | path | service | user
func DecodeRecord(raw []byte) (*ActivityRecord, error) {
	if len(raw) < headerLen {
		return nil, fmt.Errorf("record too short: %d bytes", len(raw))
	}

	tsNs := binary.LittleEndian.Uint64(raw[0:8])
	latencyUs := binary.LittleEndian.Uint32(raw[8:12])
	status := binary.LittleEndian.Uint32(raw[12:16])
	bytesOut := binary.LittleEndian.Uint64(raw[16:24])
	srcIP := net.IP(raw[24:28]).String()
	methodLen := int(binary.LittleEndian.Uint16(raw[28:30]))
	pathLen := int(binary.LittleEndian.Uint16(raw[30:32]))
	serviceLen := int(binary.LittleEndian.Uint16(raw[32:34]))
	userLen := int(binary.LittleEndian.Uint16(raw[34:36]))

	data := raw[headerLen:]
	want := methodLen + pathLen + serviceLen + userLen
	if len(data) < want {
		return nil, fmt.Errorf("record data truncated: have %d bytes, want %d", len(data), want)
	}

	offset := 0
	next := func(n int) string {
		s := string(data[offset : offset+n])
		offset += n
		return s
	}
	method := next(methodLen)
	path := next(pathLen)
	service := next(serviceLen)
	user := next(userLen)

	return &ActivityRecord{
		Timestamp: time.Unix(0, int64(tsNs)),
		IP:        srcIP,
		Method:    method,
		Path:      path,
		Service:   service,
		UserID:    user,
		LatencyMs: float64(latencyUs) / 1000.0,
		Status:    int(status),
		BytesOut:  int64(bytesOut),
	}, nil
}

// Event converts the record into an assessable activity event.
func (r *ActivityRecord) Event() risk.ActivityEvent {
	return risk.ActivityEvent{
		Timestamp:  r.Timestamp,
		Endpoint:   r.Path,
		Method:     r.Method,
		StatusCode: r.Status,
		LatencyMs:  r.LatencyMs,
		BytesOut:   r.BytesOut,
		Service:    r.Service,
		TraceID:    fmt.Sprintf("tap-%d", r.Timestamp.UnixNano()),
	}
}

// Identity synthesizes the identity context visible at the tap. The kernel
// sees the wire, not the auth layer, so device, geo and session stay empty.
func (r *ActivityRecord) Identity() risk.IdentityContext {
	return risk.IdentityContext{
		UserID:    r.UserID,
		IP:        r.IP,
		UserAgent: "vigil-probe/1.0",
		Timestamp: r.Timestamp,
	}
}
