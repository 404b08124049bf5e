// Package network implements the honeypot TCP listener and the per-connection
// handshake loop.
package network

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/protocol"
)

// Connection wraps one accepted honeypot socket and its codec.
type Connection struct {
	mu     sync.Mutex
	id     string
	conn   net.Conn
	codec  *protocol.Codec
	logger zerolog.Logger

	remoteIP   string
	remotePort int

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// State
	state    string
	packets  int
	draining bool
	closed   bool
}

// ConnectionInfo is a point-in-time view of a live connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	RemotePort   int       `json:"remote_port"`
	State        string    `json:"state"`
	Packets      int       `json:"packets"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// NewConnection wraps an accepted net.Conn.
func NewConnection(id string, conn net.Conn, maxFrameSize int) *Connection {
	now := time.Now()
	ip, port := splitRemote(conn.RemoteAddr())
	return &Connection{
		id:           id,
		conn:         conn,
		codec:        protocol.NewCodec(conn, maxFrameSize),
		remoteIP:     ip,
		remotePort:   port,
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "connection").
			Str("session", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

func splitRemote(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// ReadPacket reads a single packet from the connection.
// Blocks until a packet is available, the timeout expires or the connection
// is interrupted.
func (c *Connection) ReadPacket(timeout time.Duration) (protocol.Packet, error) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return protocol.Packet{}, ErrDraining
	}
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	c.mu.Unlock()

	pkt, err := c.codec.ReadPacket()
	if err != nil {
		return protocol.Packet{}, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.packets++
	c.mu.Unlock()

	return pkt, nil
}

// WritePacket sends a packet through the connection.
func (c *Connection) WritePacket(pkt protocol.Packet, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := c.codec.WritePacket(pkt); err != nil {
		return err
	}

	c.logger.Trace().Str("packet", pkt.String()).Msg("< packet")
	return nil
}

// Interrupt unblocks a pending read and makes every later read fail with
// ErrDraining. The current read, if any, returns a timeout error.
func (c *Connection) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining || c.closed {
		return
	}
	c.draining = true
	c.conn.SetReadDeadline(time.Now())
}

// Draining reports whether Interrupt was called.
func (c *Connection) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// Linger keeps the connection open for d, discarding whatever the client
// sends, and returns early if the client leaves or the connection is
// interrupted.
func (c *Connection) Linger(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if _, err := c.ReadPacket(time.Until(deadline)); err != nil {
			return
		}
	}
}

// SetState records the handshake state for monitoring.
func (c *Connection) SetState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the session id.
func (c *Connection) ID() string {
	return c.id
}

// RemoteIP returns the peer's IP address.
func (c *Connection) RemoteIP() string {
	return c.remoteIP
}

// RemotePort returns the peer's source port.
func (c *Connection) RemotePort() int {
	return c.remotePort
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		ID:           c.id,
		RemoteAddr:   c.remoteIP,
		RemotePort:   c.remotePort,
		State:        c.state,
		Packets:      c.packets,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
	}
}

// ConnectionRegistry tracks live honeypot connections by session id.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	rejected atomic.Uint64
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

// Reject records a socket that was closed before a session started.
func (r *ConnectionRegistry) Reject() {
	r.rejected.Add(1)
}

// Rejected returns how many sockets were closed without a session, and
// therefore without an Event.
func (r *ConnectionRegistry) Rejected() uint64 {
	return r.rejected.Load()
}

// Unregister removes a connection from the registry. The connection itself
// is left open; its owner closes it.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns the connection for a session id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// List returns a snapshot of every live connection, oldest first.
func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// InterruptAll interrupts every registered connection and returns how many
// there were.
func (r *ConnectionRegistry) InterruptAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.conns {
		conn.Interrupt()
	}
	return len(r.conns)
}
