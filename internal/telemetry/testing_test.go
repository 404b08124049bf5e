package telemetry

import (
	"time"

	"github.com/bottled-honey/bottled-honey/internal/events"
)

func sampleEvent() events.Event {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return events.Event{
		ID:         "session-1",
		RemoteAddr: "203.0.113.7",
		RemotePort: 51234,
		Fields: map[string]string{
			events.FieldVersion:         "Terraria279",
			events.FieldRelease:         "279",
			events.FieldPasswordAttempt: "hunter2",
			events.FieldPlayerName:      "Guide",
		},
		PasswordRequested: true,
		Outcome:           events.OutcomeCompleted,
		PacketCount:       4,
		StartedAt:         start,
		EndedAt:           start.Add(1500 * time.Millisecond),
		FirstPacketAt:     start.Add(10 * time.Millisecond),
		LastPacketAt:      start.Add(500 * time.Millisecond),
	}
}
