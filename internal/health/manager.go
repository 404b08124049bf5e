// Package health runs periodic self-checks on the honeypot and emits a
// status heartbeat.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/network"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// staleSlack is added to the longest read deadline before a connection
// counts as stuck.
const staleSlack = time.Minute

// CheckResult is the latest result of a named check.
type CheckResult struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// ConnectionSource lists live honeypot connections.
type ConnectionSource interface {
	List() []network.ConnectionInfo
	Count() int
	Rejected() uint64
}

// QueueStats exposes the event bus backlog.
type QueueStats interface {
	Dropped() uint64
	Pending() int
}

// StatusPublisher receives heartbeat documents.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status map[string]interface{}) error
}

// Manager runs the health checks on a ticker.
type Manager struct {
	cfg         *config.Config
	connections ConnectionSource
	queue       QueueStats
	publisher   StatusPublisher

	diskUsage func(path string) (*util.DiskUsage, error)
	now       func() time.Time
	started   time.Time

	mu          sync.Mutex
	results     map[string]CheckResult
	lastDropped uint64
}

// NewManager creates a new health check manager. publisher may be nil.
func NewManager(cfg *config.Config, connections ConnectionSource, queue QueueStats, publisher StatusPublisher) *Manager {
	return &Manager{
		cfg:         cfg,
		connections: connections,
		queue:       queue,
		publisher:   publisher,
		diskUsage:   util.GetDiskUsage,
		now:         time.Now,
		started:     time.Now(),
		results:     make(map[string]CheckResult),
	}
}

// Start runs the checks and the heartbeat until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	hc := m.cfg.Health
	if !hc.Enabled {
		log.Info().Msg("health checks disabled")
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.loop(ctx, "checks", hc.CheckInterval(), func(ctx context.Context) { m.RunChecks(ctx) })
	}()

	if hc.HeartbeatInterval() > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, "heartbeat", hc.HeartbeatInterval(), m.heartbeat)
		}()
	}

	log.Info().
		Dur("check_interval", hc.CheckInterval()).
		Dur("heartbeat_interval", hc.HeartbeatInterval()).
		Msg("health check manager started")

	wg.Wait()
	log.Info().Msg("health check manager stopped")
}

func (m *Manager) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Debug().Str("task", name).Msg("running initial health task")
	fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// RunChecks runs every check once and records the results.
func (m *Manager) RunChecks(ctx context.Context) []CheckResult {
	results := []CheckResult{
		m.checkDiskUtilization(),
		m.checkStaleConnections(),
		m.checkEventQueue(),
	}

	m.mu.Lock()
	for _, r := range results {
		m.results[r.Name] = r
	}
	m.mu.Unlock()

	for _, r := range results {
		switch r.Status {
		case StatusOK:
			log.Debug().Str("check", r.Name).Msg(r.Message)
		case StatusWarning:
			log.Warn().Str("check", r.Name).Msg(r.Message)
		default:
			log.Error().Str("check", r.Name).Msg(r.Message)
		}
	}
	return results
}

// Results returns the latest result of every check that has run.
func (m *Manager) Results() map[string]CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]CheckResult, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// Overall is the worst status among the latest results.
func (m *Manager) Overall() Status {
	overall := StatusOK
	for _, r := range m.Results() {
		switch {
		case r.Status == StatusCritical:
			return StatusCritical
		case r.Status == StatusWarning:
			overall = StatusWarning
		}
	}
	return overall
}

func (m *Manager) result(name string, status Status, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message, CheckedAt: m.now()}
}

// diskPath is the directory whose filesystem fills up first: captures if
// stored, otherwise logs.
func (m *Manager) diskPath() string {
	if m.cfg.Storage.Enabled && m.cfg.Storage.Path != "" {
		return filepath.Dir(m.cfg.Storage.Path)
	}
	if m.cfg.Logging.Directory != "" {
		return m.cfg.Logging.Directory
	}
	return "."
}

// checkDiskUtilization warns past the configured threshold and goes
// critical at 95%.
func (m *Manager) checkDiskUtilization() CheckResult {
	const name = "disk_utilization"

	usage, err := m.diskUsage(m.diskPath())
	if err != nil {
		return m.result(name, StatusWarning, fmt.Sprintf("disk usage unavailable: %v", err))
	}

	message := fmt.Sprintf("disk usage at %.1f%% (%d MB free of %d MB)",
		usage.UsedPercent, usage.Free, usage.Total)

	switch {
	case usage.UsedPercent >= 95:
		return m.result(name, StatusCritical, message)
	case usage.UsedPercent >= m.cfg.Health.DiskWarnPercent:
		return m.result(name, StatusWarning, message)
	default:
		return m.result(name, StatusOK, message)
	}
}

// staleAfter is the longest a connection can go without a packet before
// one of the handshake deadlines should have closed it.
func (m *Manager) staleAfter() time.Duration {
	h := m.cfg.Honeypot
	longest := h.IdleTimeout()
	if h.PasswordTimeout() > longest {
		longest = h.PasswordTimeout()
	}
	return longest + h.Linger() + staleSlack
}

func (m *Manager) checkStaleConnections() CheckResult {
	const name = "stale_connections"

	limit := m.staleAfter()
	now := m.now()
	stale := 0
	for _, info := range m.connections.List() {
		last := info.LastActivity
		if last.IsZero() {
			last = info.ConnectedAt
		}
		if now.Sub(last) > limit {
			stale++
		}
	}

	if stale > 0 {
		return m.result(name, StatusWarning,
			fmt.Sprintf("%d connection(s) idle for more than %s", stale, limit))
	}
	return m.result(name, StatusOK, fmt.Sprintf("%d live connection(s)", m.connections.Count()))
}

func (m *Manager) checkEventQueue() CheckResult {
	const name = "event_queue"

	dropped := m.queue.Dropped()
	pending := m.queue.Pending()

	m.mu.Lock()
	delta := dropped - m.lastDropped
	m.lastDropped = dropped
	m.mu.Unlock()

	if delta > 0 {
		return m.result(name, StatusWarning,
			fmt.Sprintf("%d event(s) dropped since last check, %d pending", delta, pending))
	}
	return m.result(name, StatusOK, fmt.Sprintf("%d event(s) pending", pending))
}

// Status builds the heartbeat document.
func (m *Manager) Status() map[string]interface{} {
	return map[string]interface{}{
		"event":                "heartbeat",
		"status":               m.Overall(),
		"connections":          m.connections.Count(),
		"connections_rejected": m.connections.Rejected(),
		"events_pending":       m.queue.Pending(),
		"events_dropped":       m.queue.Dropped(),
		"uptime_sec":           int64(m.now().Sub(m.started).Seconds()),
		"checks":               m.Results(),
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	status := m.Status()
	log.Info().
		Interface("status", status["status"]).
		Interface("connections", status["connections"]).
		Msg("heartbeat")

	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishStatus(ctx, status); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("failed to publish heartbeat")
	}
}
