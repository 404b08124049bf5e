package telemetry

import (
	"encoding/json"
	"time"

	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

// AppVersion is reported in exported metadata.
const AppVersion = "1.0.0"

// HostMetadata describes the sensor that produced a capture.
func HostMetadata(service string, info util.SystemInfo) map[string]interface{} {
	return map[string]interface{}{
		"service":     service,
		"hostname":    info.Hostname,
		"platform":    info.Platform,
		"os":          info.OS,
		"arch":        info.Architecture,
		"app_version": AppVersion,
	}
}

// buildMessage combines metadata with the capture.
func buildMessage(metadata map[string]interface{}, event events.Event) map[string]interface{} {
	msg := make(map[string]interface{}, len(metadata)+2)

	for k, v := range metadata {
		msg[k] = v
	}

	msg["payload"] = event
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// encodeMessage returns the JSON document published for a capture.
func encodeMessage(metadata map[string]interface{}, event events.Event) ([]byte, error) {
	return json.Marshal(buildMessage(metadata, event))
}
