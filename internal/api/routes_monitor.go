package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/db"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/health"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

const maxQueryLimit = 1000

// handleGetConnections lists connections currently in a handshake.
func (s *Server) handleGetConnections(c *gin.Context) {
	connections := s.connections.List()
	c.JSON(http.StatusOK, gin.H{
		"connections": connections,
		"total":       len(connections),
	})
}

// handleGetCaptures lists stored captures, newest first.
func (s *Server) handleGetCaptures(c *gin.Context) {
	if !s.requireCaptures(c) {
		return
	}

	filter, err := captureFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	captures, err := s.captures.Query(c.Request.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("capture query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "capture query failed"})
		return
	}
	if captures == nil {
		captures = []events.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"captures": captures,
		"count":    len(captures),
	})
}

// handleGetCapture returns one stored capture.
func (s *Server) handleGetCapture(c *gin.Context) {
	if !s.requireCaptures(c) {
		return
	}

	id := c.Param("id")
	capture, ok, err := s.captures.Get(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("capture lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "capture lookup failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "capture not found", "id": id})
		return
	}

	c.JSON(http.StatusOK, capture)
}

// handleGetStats returns capture statistics and the sensor's own footprint.
func (s *Server) handleGetStats(c *gin.Context) {
	resp := gin.H{
		"active_connections": s.connections.Count(),
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
	}

	if s.captures != nil {
		top, err := strconv.Atoi(c.DefaultQuery("top", "10"))
		if err != nil || top < 1 {
			top = 10
		}
		stats, err := s.captures.Stats(c.Request.Context(), top)
		if err != nil {
			log.Error().Err(err).Msg("capture stats failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "capture stats failed"})
			return
		}
		resp["captures"] = stats
	}

	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}

	diskPath := "."
	if s.cfg.Storage.Enabled {
		diskPath = filepath.Dir(s.cfg.Storage.Path)
	}
	if usage, err := util.GetDiskUsage(diskPath); err == nil {
		resp["disk"] = usage
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetHealth returns the latest self-check results. A critical
// result answers 503 so load balancers and probes can act on it.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks are disabled"})
		return
	}

	overall := s.health.Overall()
	code := http.StatusOK
	if overall == health.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": overall,
		"checks": s.health.Results(),
	})
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > maxQueryLimit {
		count = maxQueryLimit
	}

	entries, err := readRecentLogEntries(s.cfg.Logging.Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) requireCaptures(c *gin.Context) bool {
	if s.captures == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "capture storage is disabled"})
		return false
	}
	return true
}

func captureFilterFromQuery(c *gin.Context) (db.CaptureFilter, error) {
	filter := db.CaptureFilter{
		RemoteAddr: c.Query("remote_addr"),
		Limit:      db.DefaultQueryLimit,
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = min(limit, maxQueryLimit)
	}

	if v := c.Query("outcome"); v != "" {
		outcome := events.Outcome(v)
		valid := false
		for _, o := range events.Outcomes {
			if o == outcome {
				valid = true
				break
			}
		}
		if !valid {
			return filter, fmt.Errorf("unknown outcome %q", v)
		}
		filter.Outcome = outcome
	}

	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid since %q: expected RFC3339", v)
		}
		filter.Since = since
	}

	return filter, nil
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries reads and parses the most recent entries of the
// newest log file. Zerolog writes JSON lines.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	if logDir == "" {
		return []logEntry{}, nil
	}

	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []logEntry{}, nil
		}
		return nil, err
	}

	var logFiles []string
	for _, e := range dirEntries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			logFiles = append(logFiles, e.Name())
		}
	}
	if len(logFiles) == 0 {
		return []logEntry{}, nil
	}
	// Daily file names sort chronologically
	sort.Strings(logFiles)
	latestFile := filepath.Join(logDir, logFiles[len(logFiles)-1])

	data, err := os.ReadFile(latestFile)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	var nonEmpty []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}

	start := len(nonEmpty) - count
	if start < 0 {
		start = 0
	}

	// Known zerolog internal fields to exclude from "fields"
	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true,
	}

	result := make([]logEntry, 0, len(nonEmpty)-start)
	for _, line := range nonEmpty[start:] {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:   stringFromMap(raw, "level"),
			Message: stringFromMap(raw, "message"),
		}
		if t, ok := raw["time"]; ok {
			entry.Timestamp = fmt.Sprintf("%v", t)
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
