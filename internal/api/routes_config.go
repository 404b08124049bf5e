package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bottled-honey/bottled-honey/internal/config"
)

const redacted = "********"

// handleGetConfig returns the effective configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, redactConfig(s.cfg))
}

func redactConfig(cfg *config.Config) config.Config {
	out := *cfg

	if len(cfg.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(cfg.Telemetry.Headers))
		for k := range cfg.Telemetry.Headers {
			out.Telemetry.Headers[k] = redacted
		}
	}
	if out.MQTT.Password != "" {
		out.MQTT.Password = redacted
	}
	if out.Redis.Password != "" {
		out.Redis.Password = redacted
	}
	// Webhook URLs embed their token.
	if out.Webhook.URL != "" {
		out.Webhook.URL = redacted
	}
	return out
}
