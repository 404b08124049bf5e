package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/events"
)

// DefaultQueryLimit caps capture queries that do not set a limit.
const DefaultQueryLimit = 100

// CaptureStore keeps every finished connection in SQLite. It doubles as a
// capture exporter.
type CaptureStore struct {
	db *Database
}

// CaptureFilter narrows a capture query. Zero values match everything.
type CaptureFilter struct {
	RemoteAddr string
	Outcome    events.Outcome
	Since      time.Time
	Limit      int
}

// Count is a value and how often it was seen.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Stats summarizes the stored captures.
type Stats struct {
	Total             int            `json:"total"`
	UniqueAddresses   int            `json:"unique_addresses"`
	PasswordRequested int            `json:"password_requested"`
	ByOutcome         map[string]int `json:"by_outcome"`
	ByReason          map[string]int `json:"by_reason"`
	TopAddresses      []Count        `json:"top_addresses"`
	TopNames          []Count        `json:"top_names"`
	TopPasswords      []Count        `json:"top_passwords"`
	TopReleases       []Count        `json:"top_releases"`
	FirstSeen         time.Time      `json:"first_seen,omitempty"`
	LastSeen          time.Time      `json:"last_seen,omitempty"`
}

// columns for captured fields, in storage order.
var fieldColumns = []string{
	events.FieldVersion,
	events.FieldRelease,
	events.FieldPasswordAttempt,
	events.FieldPlayerName,
	events.FieldPlayerUUID,
}

const captureColumns = `id, remote_addr, remote_port, version, game_release, password_attempt,
	player_name, player_uuid, password_requested, outcome, termination_reason, packet_count,
	started_at, ended_at, first_packet_at, last_packet_at`

// OpenCaptureStore opens the database at path and migrates the schema.
func OpenCaptureStore(path string) (*CaptureStore, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	store := &CaptureStore{db: database}
	if err := store.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate capture database: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *CaptureStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL,
			remote_port INTEGER NOT NULL DEFAULT 0,
			version TEXT,
			game_release TEXT,
			password_attempt TEXT,
			player_name TEXT,
			player_uuid TEXT,
			password_requested INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			termination_reason TEXT NOT NULL DEFAULT '',
			packet_count INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			first_packet_at INTEGER NOT NULL DEFAULT 0,
			last_packet_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_ended_at ON captures(ended_at)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_remote_addr ON captures(remote_addr)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_outcome ON captures(outcome)`,
	}

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("capture schema migrated")
	return nil
}

// Close closes the database.
func (s *CaptureStore) Close() error {
	return s.db.Close()
}

// Insert stores a capture. Storing the same capture twice is a no-op.
func (s *CaptureStore) Insert(ctx context.Context, event events.Event) error {
	args := []interface{}{event.ID, event.RemoteAddr, event.RemotePort}
	for _, field := range fieldColumns {
		args = append(args, nullField(event, field))
	}
	args = append(args,
		boolToInt(event.PasswordRequested),
		string(event.Outcome),
		string(event.Reason),
		event.PacketCount,
		unixNano(event.StartedAt),
		unixNano(event.EndedAt),
		unixNano(event.FirstPacketAt),
		unixNano(event.LastPacketAt),
	)

	_, err := s.db.Exec(ctx,
		"INSERT OR IGNORE INTO captures ("+captureColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		args...)
	if err != nil {
		return fmt.Errorf("failed to store capture %s: %w", event.ID, err)
	}
	return nil
}

func (s *CaptureStore) Name() string { return "sqlite" }

// Export stores the capture.
func (s *CaptureStore) Export(ctx context.Context, event events.Event) error {
	return s.Insert(ctx, event)
}

// Shutdown closes the database.
func (s *CaptureStore) Shutdown(context.Context) error {
	return s.Close()
}

// Get returns a single capture by id.
func (s *CaptureStore) Get(ctx context.Context, id string) (events.Event, bool, error) {
	row := s.db.QueryRow(ctx, "SELECT "+captureColumns+" FROM captures WHERE id = ?", id)
	ev, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return events.Event{}, false, nil
	}
	if err != nil {
		return events.Event{}, false, fmt.Errorf("failed to load capture %s: %w", id, err)
	}
	return ev, true, nil
}

// Recent returns the newest captures first.
func (s *CaptureStore) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	return s.Query(ctx, CaptureFilter{Limit: limit})
}

// Query returns captures matching the filter, newest first.
func (s *CaptureStore) Query(ctx context.Context, filter CaptureFilter) ([]events.Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.RemoteAddr != "" {
		where = append(where, "remote_addr = ?")
		args = append(args, filter.RemoteAddr)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		where = append(where, "ended_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := "SELECT " + captureColumns + " FROM captures"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ended_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("capture query failed: %w", err)
	}
	defer rows.Close()

	var captures []events.Event
	for rows.Next() {
		ev, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		captures = append(captures, ev)
	}
	return captures, rows.Err()
}

// Count returns the number of stored captures.
func (s *CaptureStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM captures").Scan(&n); err != nil {
		return 0, fmt.Errorf("capture count failed: %w", err)
	}
	return n, nil
}

// Stats aggregates the stored captures. top bounds each ranking.
func (s *CaptureStore) Stats(ctx context.Context, top int) (Stats, error) {
	if top <= 0 {
		top = 10
	}
	stats := Stats{
		ByOutcome: make(map[string]int),
		ByReason:  make(map[string]int),
	}

	var first, last sql.NullInt64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT remote_addr), COALESCE(SUM(password_requested), 0),
			MIN(started_at), MAX(ended_at)
		FROM captures
	`).Scan(&stats.Total, &stats.UniqueAddresses, &stats.PasswordRequested, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("capture stats failed: %w", err)
	}
	if first.Valid {
		stats.FirstSeen = time.Unix(0, first.Int64).UTC()
	}
	if last.Valid {
		stats.LastSeen = time.Unix(0, last.Int64).UTC()
	}

	if err := s.countInto(ctx, "outcome", stats.ByOutcome); err != nil {
		return Stats{}, err
	}
	if err := s.countInto(ctx, "termination_reason", stats.ByReason); err != nil {
		return Stats{}, err
	}
	delete(stats.ByReason, "")

	rankings := []struct {
		column string
		dest   *[]Count
	}{
		{"remote_addr", &stats.TopAddresses},
		{"player_name", &stats.TopNames},
		{"password_attempt", &stats.TopPasswords},
		{"game_release", &stats.TopReleases},
	}
	for _, r := range rankings {
		counts, err := s.topValues(ctx, r.column, top)
		if err != nil {
			return Stats{}, err
		}
		*r.dest = counts
	}

	return stats, nil
}

// column names are fixed by callers, never user input.
func (s *CaptureStore) countInto(ctx context.Context, column string, dest map[string]int) error {
	rows, err := s.db.Query(ctx, "SELECT "+column+", COUNT(*) FROM captures GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("failed to group captures by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return err
		}
		dest[value] = n
	}
	return rows.Err()
}

func (s *CaptureStore) topValues(ctx context.Context, column string, limit int) ([]Count, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+column+", COUNT(*) AS n FROM captures WHERE "+column+" IS NOT NULL GROUP BY "+column+
			" ORDER BY n DESC, "+column+" LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank %s: %w", column, err)
	}
	defer rows.Close()

	counts := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Value, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Prune removes captures that ended before cutoff and returns how many were
// removed.
func (s *CaptureStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, "DELETE FROM captures WHERE ended_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("capture prune failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("expired captures pruned")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(row scanner) (events.Event, error) {
	var (
		ev                                      events.Event
		fields                                  [5]sql.NullString
		requested                               int
		outcome, reason                         string
		started, ended, firstPacket, lastPacket int64
	)
	err := row.Scan(&ev.ID, &ev.RemoteAddr, &ev.RemotePort,
		&fields[0], &fields[1], &fields[2], &fields[3], &fields[4],
		&requested, &outcome, &reason, &ev.PacketCount,
		&started, &ended, &firstPacket, &lastPacket)
	if err != nil {
		return events.Event{}, err
	}

	for i, name := range fieldColumns {
		if fields[i].Valid {
			if ev.Fields == nil {
				ev.Fields = make(map[string]string)
			}
			ev.Fields[name] = fields[i].String
		}
	}
	ev.PasswordRequested = requested != 0
	ev.Outcome = events.Outcome(outcome)
	ev.Reason = events.Reason(reason)
	ev.StartedAt = fromUnixNano(started)
	ev.EndedAt = fromUnixNano(ended)
	ev.FirstPacketAt = fromUnixNano(firstPacket)
	ev.LastPacketAt = fromUnixNano(lastPacket)
	return ev, nil
}

func nullField(event events.Event, name string) sql.NullString {
	v, ok := event.Field(name)
	return sql.NullString{String: v, Valid: ok}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
