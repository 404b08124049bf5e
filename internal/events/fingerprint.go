package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fingerprint accumulates what one connection reveals about its client.
// Captured fields are write-once. Finalize turns it into an Event exactly
// once; the mutex makes that safe against a timeout racing a completion.
type Fingerprint struct {
	mu     sync.Mutex
	logger zerolog.Logger

	id         string
	remoteAddr string
	remotePort int

	fields            map[string]string
	passwordRequested bool
	packetCount       int

	startedAt     time.Time
	firstPacketAt time.Time
	lastPacketAt  time.Time

	finalized bool
}

// NewFingerprint starts a fingerprint for a connection accepted at startedAt.
func NewFingerprint(id, remoteAddr string, remotePort int, startedAt time.Time) *Fingerprint {
	return &Fingerprint{
		logger: log.With().
			Str("component", "fingerprint").
			Str("session", id).
			Logger(),
		id:         id,
		remoteAddr: remoteAddr,
		remotePort: remotePort,
		fields:     make(map[string]string),
		startedAt:  startedAt,
	}
}

// ID returns the session id the fingerprint belongs to.
func (f *Fingerprint) ID() string {
	return f.id
}

// Capture records a field. It returns false and keeps the earlier value if
// the field was already captured or the fingerprint is finalized.
func (f *Fingerprint) Capture(field, value string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finalized {
		f.logger.Warn().Str("field", field).Msg("capture after finalize ignored")
		return false
	}
	if _, exists := f.fields[field]; exists {
		f.logger.Warn().Str("field", field).Msg("field already captured, keeping first value")
		return false
	}

	f.fields[field] = value
	return true
}

// Captured returns a captured value.
func (f *Fingerprint) Captured(field string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.fields[field]
	return v, ok
}

// MarkPasswordRequested records that the client was sent a password challenge.
func (f *Fingerprint) MarkPasswordRequested() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.finalized {
		f.passwordRequested = true
	}
}

// Touch records the arrival of a packet.
func (f *Fingerprint) Touch(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finalized {
		return
	}
	if f.firstPacketAt.IsZero() {
		f.firstPacketAt = now
	}
	f.lastPacketAt = now
	f.packetCount++
}

// Finalize snapshots the fingerprint into an Event. Only the first call
// returns ok; later calls return a zero Event and false.
func (f *Fingerprint) Finalize(reason Reason, endedAt time.Time) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finalized {
		return Event{}, false
	}
	f.finalized = true

	fields := make(map[string]string, len(f.fields))
	for k, v := range f.fields {
		fields[k] = v
	}

	return Event{
		ID:                f.id,
		RemoteAddr:        f.remoteAddr,
		RemotePort:        f.remotePort,
		Fields:            fields,
		PasswordRequested: f.passwordRequested,
		Outcome:           reason.Outcome(),
		Reason:            reason,
		PacketCount:       f.packetCount,
		StartedAt:         f.startedAt,
		EndedAt:           endedAt,
		FirstPacketAt:     f.firstPacketAt,
		LastPacketAt:      f.lastPacketAt,
	}, true
}

// Finalized reports whether Finalize has already produced the Event.
func (f *Fingerprint) Finalized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized
}
