package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprinter derives a stable identity hash and remembers the most recent
// one per user. Two different fingerprints on one account inside the window
// suggest more than one actor holds the credentials.
type Fingerprinter struct {
	multiActorWindow time.Duration
	recent           map[string]fingerprintRecord
}

type fingerprintRecord struct {
	fingerprint string
	timestamp   time.Time
}

func NewFingerprinter(multiActorWindow time.Duration) *Fingerprinter {
	return &Fingerprinter{
		multiActorWindow: multiActorWindow,
		recent:           make(map[string]fingerprintRecord),
	}
}

// Fingerprint hashes the five identity dimensions. Field order and the "|"
// separator are load-bearing: persisted fingerprints compare byte-for-byte.
func (f *Fingerprinter) Fingerprint(identity IdentityContext) string {
	payload := strings.Join([]string{
		identity.DeviceID,
		identity.IP,
		identity.Geo,
		identity.UserAgent,
		identity.UserID,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// DetectMultiActor swaps in the current fingerprint and compares it with the
// previous record. The first sighting of a user never fires.
func (f *Fingerprinter) DetectMultiActor(identity IdentityContext) *RiskSignal {
	fingerprint := f.Fingerprint(identity)
	previous, exists := f.recent[identity.UserID]
	f.recent[identity.UserID] = fingerprintRecord{fingerprint: fingerprint, timestamp: identity.Timestamp}
	if !exists {
		return nil
	}
	if previous.fingerprint != fingerprint && identity.Timestamp.Sub(previous.timestamp) <= f.multiActorWindow {
		return &RiskSignal{
			Name:   SignalMultiActorDetection,
			Score:  25.0,
			Detail: "Account used from multiple distinct fingerprints within a short window",
		}
	}
	return nil
}
