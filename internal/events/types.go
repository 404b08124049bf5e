// Package events defines the capture record produced for every honeypot
// connection and the bus that hands finished records to exporters.
package events

import (
	"sort"
	"time"
)

// Outcome is how a connection ended.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeProtocolError    Outcome = "protocol_error"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeDisconnected     Outcome = "disconnected"
	OutcomePasswordRejected Outcome = "password_rejected"
)

// Outcomes lists every outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeCompleted,
	OutcomeProtocolError,
	OutcomeTimeout,
	OutcomeDisconnected,
	OutcomePasswordRejected,
}

// Reason is the detailed cause behind an Outcome.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnexpectedPacket Reason = "unexpected_packet"
	ReasonBadSignature     Reason = "bad_signature"
	ReasonMalformedPayload Reason = "malformed_payload"
	ReasonInvalidFrame     Reason = "invalid_frame"
	ReasonFrameTooLarge    Reason = "frame_too_large"
	ReasonTruncated        Reason = "truncated"
	ReasonTooManyPackets   Reason = "too_many_packets"
	ReasonPasswordRejected Reason = "password_rejected"
	ReasonTimeout          Reason = "timeout"
	ReasonDisconnected     Reason = "disconnected"
	ReasonIOError          Reason = "io_error"
	ReasonShutdown         Reason = "shutdown"
)

// Outcome maps a termination reason to the outcome reported for it.
func (r Reason) Outcome() Outcome {
	switch r {
	case ReasonNone:
		return OutcomeCompleted
	case ReasonPasswordRejected:
		return OutcomePasswordRejected
	case ReasonTimeout:
		return OutcomeTimeout
	case ReasonDisconnected, ReasonIOError, ReasonShutdown:
		return OutcomeDisconnected
	default:
		return OutcomeProtocolError
	}
}

// Captured field names.
const (
	FieldVersion         = "version"
	FieldRelease         = "release"
	FieldPasswordAttempt = "password_attempt"
	FieldPlayerName      = "player_name"
	FieldPlayerUUID      = "player_uuid"
)

// Event is the immutable record of one connection. Fields only holds values
// the client actually sent; absent keys were never captured.
type Event struct {
	ID                string            `json:"id"`
	RemoteAddr        string            `json:"remote_addr"`
	RemotePort        int               `json:"remote_port"`
	Fields            map[string]string `json:"fields,omitempty"`
	PasswordRequested bool              `json:"password_requested"`
	Outcome           Outcome           `json:"outcome"`
	Reason            Reason            `json:"termination_reason,omitempty"`
	PacketCount       int               `json:"packet_count"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           time.Time         `json:"ended_at"`
	FirstPacketAt     time.Time         `json:"first_packet_at"`
	LastPacketAt      time.Time         `json:"last_packet_at"`
}

// Field returns a captured value.
func (e Event) Field(name string) (string, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// FieldNames returns the captured field names sorted.
func (e Event) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Duration returns how long the connection was open.
func (e Event) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}
