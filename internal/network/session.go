package network

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/handshake"
	"github.com/bottled-honey/bottled-honey/internal/protocol"
)

// handleConnection runs the handshake for one accepted socket and publishes
// its Event exactly once.
func (l *TCPListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	if tcp, ok := rawConn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			l.logger.Debug().Err(err).Msg("failed to set TCP_NODELAY")
		}
	}

	conn := NewConnection(uuid.NewString(), rawConn, l.opts.MaxFrameSize)
	defer conn.Close()

	logger := log.With().
		Str("component", "session").
		Str("session", conn.ID()).
		Str("remote", rawConn.RemoteAddr().String()).
		Logger()

	fp := events.NewFingerprint(conn.ID(), conn.RemoteIP(), conn.RemotePort(), conn.ConnectedAt())
	gate := handshake.NewGate(l.rand, l.opts.PasswordChance)
	machine := handshake.NewMachine(fp, gate, handshake.Options{
		Policy:     l.opts.Policy,
		PlayerSlot: l.opts.PlayerSlot,
	})

	l.registry.Register(conn)
	defer l.registry.Unregister(conn.ID())

	// Serve may have started draining before this connection registered.
	if ctx.Err() != nil {
		conn.Interrupt()
	}

	l.metrics.ConnectionOpened()
	logger.Info().Bool("password_gate", gate.Required()).Msg("new connection")

	for !machine.Done() {
		conn.SetState(machine.State().String())

		pkt, err := conn.ReadPacket(machine.ReadTimeout(l.opts.Timeouts))
		if err != nil {
			reason := classify(conn, err)
			logger.Debug().Err(err).Str("reason", string(reason)).Msg("read failed")
			machine.Fail(reason)
			break
		}

		fp.Touch(time.Now())
		l.metrics.PacketReceived(pkt.ID)

		for _, reply := range machine.Step(pkt) {
			if err := conn.WritePacket(reply, l.opts.Timeouts.Idle); err != nil {
				reason := classify(conn, err)
				logger.Debug().Err(err).Str("reason", string(reason)).Msg("write failed")
				machine.Fail(reason)
				break
			}
		}
	}
	conn.SetState(machine.State().String())

	event, ok := fp.Finalize(machine.Reason(), time.Now())
	if !ok {
		return
	}

	if l.bus != nil && !l.bus.Publish(event) {
		logger.Warn().Msg("event queue full, capture dropped")
	}
	l.metrics.ConnectionClosed(event)

	logger.Info().
		Str("outcome", string(event.Outcome)).
		Str("reason", string(event.Reason)).
		Int("packets", event.PacketCount).
		Dur("duration", event.Duration()).
		Msg("client disconnected")

	if machine.State() == handshake.StateCompleted && l.opts.Linger > 0 {
		conn.Linger(l.opts.Linger)
	}
}

// classify maps a transport or codec error to a termination reason.
func classify(conn *Connection, err error) events.Reason {
	if conn.Draining() || errors.Is(err, ErrDraining) {
		return events.ReasonShutdown
	}
	if protocol.IsProtocolError(err) {
		return handshake.ReasonForError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return events.ReasonTimeout
	}
	return handshake.ReasonForError(err)
}
