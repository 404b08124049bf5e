package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleCloseConnection interrupts a live connection. Its capture is
// finalized with reason shutdown.
func (s *Server) handleCloseConnection(c *gin.Context) {
	id := c.Param("id")
	conn, ok := s.connections.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found", "id": id})
		return
	}

	conn.Interrupt()
	log.Info().Str("session", id).Str("client_ip", c.ClientIP()).Msg("API: connection closed")

	c.JSON(http.StatusOK, gin.H{
		"status": "closing",
		"id":     id,
	})
}

// handlePrune removes captures older than the retention window now.
func (s *Server) handlePrune(c *gin.Context) {
	if !s.requireCaptures(c) {
		return
	}

	retention := s.cfg.Storage.Retention()
	if retention <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "retention is disabled"})
		return
	}

	cutoff := time.Now().Add(-retention)
	removed, err := s.captures.Prune(c.Request.Context(), cutoff)
	if err != nil {
		log.Error().Err(err).Msg("API: capture prune failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "capture prune failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "pruned",
		"removed": removed,
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
	})
}
