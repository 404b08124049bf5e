package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bottled-honey/bottled-honey/internal/util"
)

// Version is reported by the public endpoints.
const Version = "1.0.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": s.cfg.Telemetry.ServiceName,
		"version": Version,
	})
}

// handleGetInfo returns basic sensor information.
func (s *Server) handleGetInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"service":         s.cfg.Telemetry.ServiceName,
		"version":         Version,
		"honeypot_addr":   s.cfg.Honeypot.Address,
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		"hostname":        sysInfo.Hostname,
		"platform":        sysInfo.Platform,
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
