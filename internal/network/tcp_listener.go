package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/bottled-honey/bottled-honey/internal/config"
	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/handshake"
	"github.com/bottled-honey/bottled-honey/internal/util"
)

const (
	// minAcceptBackoff and maxAcceptBackoff bound the sleep after a
	// transient accept error.
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Publisher receives the finished Event of every connection.
type Publisher interface {
	Publish(event events.Event) bool
}

// Recorder observes connection lifecycles. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ConnectionOpened()
	ConnectionRejected()
	PacketReceived(id byte)
	ConnectionClosed(event events.Event)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()             {}
func (nopRecorder) ConnectionRejected()           {}
func (nopRecorder) PacketReceived(byte)           {}
func (nopRecorder) ConnectionClosed(events.Event) {}

// Options configure a Listener.
type Options struct {
	Address        string
	PasswordChance float64
	Policy         handshake.PasswordPolicy
	Timeouts       handshake.Timeouts
	Linger         time.Duration
	MaxFrameSize   int
	MaxConnections int
	PlayerSlot     byte
}

// OptionsFromConfig converts the honeypot section of the configuration.
func OptionsFromConfig(h config.HoneypotConfig) (Options, error) {
	policy, err := handshake.ParsePasswordPolicy(h.PasswordPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Address:        h.Address,
		PasswordChance: h.PasswordChance,
		Policy:         policy,
		Timeouts: handshake.Timeouts{
			Idle:     h.IdleTimeout(),
			Password: h.PasswordTimeout(),
			Grace:    h.GraceTimeout(),
		},
		Linger:         h.Linger(),
		MaxFrameSize:   h.MaxFrameSize,
		MaxConnections: h.MaxConnections,
		PlayerSlot:     byte(h.PlayerSlot),
	}, nil
}

// TCPListener accepts honeypot connections and runs the handshake on each
// of them in its own goroutine.
type TCPListener struct {
	opts     Options
	rand     handshake.RandomSource
	bus      Publisher
	metrics  Recorder
	registry *ConnectionRegistry
	sem      *semaphore.Weighted
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPListener creates a listener. rand is shared by every connection and
// must be safe for concurrent use; metrics may be nil.
func NewTCPListener(opts Options, rand handshake.RandomSource, bus Publisher, metrics Recorder) *TCPListener {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if opts.Timeouts.Idle <= 0 {
		opts.Timeouts.Idle = 3 * time.Second
	}
	var sem *semaphore.Weighted
	if opts.MaxConnections > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxConnections))
	}
	return &TCPListener{
		opts:     opts,
		rand:     rand,
		bus:      bus,
		metrics:  metrics,
		registry: NewConnectionRegistry(),
		sem:      sem,
		logger:   util.ComponentLogger("tcp_listener"),
	}
}

// Registry returns the live connection registry.
func (l *TCPListener) Registry() *ConnectionRegistry {
	return l.registry
}

// Listen binds the honeypot address. A failure is returned as *BindError.
func (l *TCPListener) Listen(ctx context.Context) error {
	// Use SO_REUSEADDR to allow immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.opts.Address)
	if err != nil {
		return &BindError{Addr: l.opts.Address, Err: err}
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. On cancellation it interrupts every live connection and returns
// once all of them have been finalized.
func (l *TCPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			l.logger.Error().Err(err).Dur("retry_in", backoff).Msg("failed to accept connection")

			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
			}
			break
		}
		backoff = 0

		if l.sem != nil && !l.sem.TryAcquire(1) {
			l.logger.Warn().
				Str("remote", conn.RemoteAddr().String()).
				Int("max_connections", l.opts.MaxConnections).
				Msg("connection limit reached, dropping connection")
			l.metrics.ConnectionRejected()
			l.registry.Reject()
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			if l.sem != nil {
				defer l.sem.Release(1)
			}
			l.handleConnection(ctx, conn)
		}()
	}

	l.drain(ctx)
	return nil
}

// drain waits for every connection goroutine. Live connections are only
// interrupted when ctx was cancelled.
func (l *TCPListener) drain(ctx context.Context) {
	if ctx.Err() != nil {
		if n := l.registry.InterruptAll(); n > 0 {
			l.logger.Info().Int("connections", n).Msg("draining live connections")
		}
	}
	l.wg.Wait()
	l.logger.Info().Msg("TCP listener stopped")
}

// Close stops accepting connections without interrupting live ones.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	if err := l.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}
