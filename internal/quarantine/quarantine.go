package quarantine

import (
	"sync"
	"time"

	"github.com/timecoin/node/pkg/models"
)

// baseTTL is the first-offense exclusion window per severity.
// Repeated offenses double it.
var baseTTL = map[models.Severity]time.Duration{
	models.SeverityLow:      5 * time.Minute,
	models.SeverityMedium:   15 * time.Minute,
	models.SeverityHigh:     1 * time.Hour,
	models.SeverityCritical: 24 * time.Hour,
}

// maxTTL caps the exponential backoff so a chronic offender is never
// excluded longer than a week at a stretch.
const maxTTL = 7 * 24 * time.Hour

// reasonSeverity is the closed reason→severity table.
var reasonSeverity = map[models.QuarantineReason]models.Severity{
	models.ReasonGenesisMismatch:    models.SeverityCritical,
	models.ReasonForkDetected:       models.SeverityHigh,
	models.ReasonSuspiciousHeight:   models.SeverityMedium,
	models.ReasonConsensusViolation: models.SeverityCritical,
	models.ReasonInvalidBlock:       models.SeverityHigh,
	models.ReasonInvalidTransaction: models.SeverityMedium,
	models.ReasonProtocolMismatch:   models.SeverityHigh,
	models.ReasonConnectionFailures: models.SeverityLow,
	models.ReasonRateLimitExceeded:  models.SeverityLow,
	models.ReasonExcessiveTimeouts:  models.SeverityMedium,
}

// List tracks every peer currently excluded from handshake, vote
// submission, and block propagation, keyed by peer IP.
type List struct {
	mu      sync.Mutex
	records map[string]*models.QuarantineRecord
}

// NewList creates an empty quarantine list.
func NewList() *List {
	return &List{records: make(map[string]*models.QuarantineRecord)}
}

func ttlFor(severity models.Severity, attempts int) time.Duration {
	ttl := baseTTL[severity]
	for i := 1; i < attempts; i++ {
		ttl *= 2
		if ttl >= maxTTL {
			return maxTTL
		}
	}
	return ttl
}

// Offend records an offense for peerIP at time now, extending (or
// starting) its quarantine. A repeat offense — one recorded while the
// peer is still actively quarantined — doubles the TTL exponentially;
// an offense after a prior quarantine has expired starts a fresh
// attempts count at the base TTL.
func (l *List) Offend(peerIP string, reason models.QuarantineReason, now time.Time) *models.QuarantineRecord {
	severity := reasonSeverity[reason]

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, exists := l.records[peerIP]
	if !exists || !rec.Active(now) {
		rec = &models.QuarantineRecord{
			PeerIP:         peerIP,
			Reason:         reason,
			Severity:       severity,
			FirstOffenseAt: now,
			Attempts:       0,
		}
		l.records[peerIP] = rec
	}
	rec.Attempts++
	rec.Reason = reason
	rec.Severity = severity
	rec.ExpiresAt = now.Add(ttlFor(severity, rec.Attempts))
	return rec
}

// IsQuarantined reports whether peerIP is currently excluded.
func (l *List) IsQuarantined(peerIP string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[peerIP]
	return ok && rec.Active(now)
}

// Release immediately lifts peerIP's quarantine (admin action).
func (l *List) Release(peerIP string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, peerIP)
}

// Reset clears every quarantine record.
func (l *List) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*models.QuarantineRecord)
}

// Active returns every currently-active quarantine record.
func (l *List) Active(now time.Time) []models.QuarantineRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.QuarantineRecord
	for _, rec := range l.records {
		if rec.Active(now) {
			out = append(out, *rec)
		}
	}
	return out
}

// Record returns the quarantine record for peerIP, if any (active or
// expired — callers that need liveness should check Active(now)).
func (l *List) Record(peerIP string) (models.QuarantineRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[peerIP]
	if !ok {
		return models.QuarantineRecord{}, false
	}
	return *rec, true
}
