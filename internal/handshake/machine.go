package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/events"
	"github.com/bottled-honey/bottled-honey/internal/protocol"
)

// State is a handshake state.
type State int

const (
	StateAwaitConnectRequest State = iota
	StateAwaitPassword
	StateAwaitPlayerInfo
	StateCompleted
	StateTerminated
)

var stateStrings = map[State]string{
	StateAwaitConnectRequest: "await_connect_request",
	StateAwaitPassword:       "await_password",
	StateAwaitPlayerInfo:     "await_player_info",
	StateCompleted:           "completed",
	StateTerminated:          "terminated",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// PasswordPolicy decides what happens after a password attempt.
type PasswordPolicy string

const (
	// PolicyAccept lets every attempt through so the rest of the handshake
	// can be observed.
	PolicyAccept PasswordPolicy = "accept"
	// PolicyReject kicks the client after recording its attempt.
	PolicyReject PasswordPolicy = "reject"
)

// ParsePasswordPolicy validates a policy name.
func ParsePasswordPolicy(s string) (PasswordPolicy, error) {
	switch p := PasswordPolicy(s); p {
	case PolicyAccept, PolicyReject:
		return p, nil
	case "":
		return PolicyAccept, nil
	default:
		return "", fmt.Errorf("unknown password policy %q (want %q or %q)", s, PolicyAccept, PolicyReject)
	}
}

// MaxIgnoredPackets is how many unrelated packets are tolerated while
// waiting for the player info.
const MaxIgnoredPackets = 16

// RejectReason is the kick message sent when PolicyReject applies.
const RejectReason = "Incorrect password."

// Options configure a Machine.
type Options struct {
	Policy     PasswordPolicy
	PlayerSlot byte
}

// Timeouts are the read deadlines used while the handshake is in progress.
type Timeouts struct {
	// Idle applies to every state without a more specific deadline.
	Idle time.Duration
	// Password applies while a password challenge is pending; people type
	// slower than clients send.
	Password time.Duration
	// Grace applies once the player name is known and only the client
	// UUID is still outstanding.
	Grace time.Duration
}

// Machine is the handshake state machine for one connection.
type Machine struct {
	state   State
	reason  events.Reason
	gate    Gate
	opts    Options
	fp      *events.Fingerprint
	parser  *protocol.HandshakeParser
	ignored int
	logger  zerolog.Logger
}

// NewMachine creates a machine that records into fp.
func NewMachine(fp *events.Fingerprint, gate Gate, opts Options) *Machine {
	if opts.Policy == "" {
		opts.Policy = PolicyAccept
	}
	return &Machine{
		state:  StateAwaitConnectRequest,
		gate:   gate,
		opts:   opts,
		fp:     fp,
		parser: protocol.NewHandshakeParser(),
		logger: log.With().
			Str("component", "handshake").
			Str("session", fp.ID()).
			Logger(),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Reason returns why the machine terminated; empty unless terminated.
func (m *Machine) Reason() events.Reason {
	return m.reason
}

// Gate returns the connection's password gate.
func (m *Machine) Gate() Gate {
	return m.gate
}

// Done reports whether the machine reached a final state.
func (m *Machine) Done() bool {
	return m.state == StateCompleted || m.state == StateTerminated
}

// ReadTimeout returns the read deadline for the current state.
func (m *Machine) ReadTimeout(t Timeouts) time.Duration {
	switch {
	case m.state == StateAwaitPassword && t.Password > 0:
		return t.Password
	case m.state == StateAwaitPlayerInfo && m.hasName() && t.Grace > 0:
		return t.Grace
	default:
		return t.Idle
	}
}

// Step feeds one packet to the machine and returns the replies to send, in
// order. Packets arriving after a final state are ignored.
//
// Player info does not complete the handshake by itself: the machine stays in
// StateAwaitPlayerInfo until the ClientUUID arrives, the client sends any
// other packet, or the read fails (see Fail). The grace deadline from
// ReadTimeout bounds that wait.
func (m *Machine) Step(pkt protocol.Packet) []protocol.Packet {
	m.logger.Trace().Str("packet", pkt.String()).Str("state", m.state.String()).Msg("> packet")

	switch m.state {
	case StateAwaitConnectRequest:
		return m.onConnectRequest(pkt)
	case StateAwaitPassword:
		return m.onSendPassword(pkt)
	case StateAwaitPlayerInfo:
		return m.onPlayerInfo(pkt)
	default:
		return nil
	}
}

// Fail ends the handshake because of something outside the packet stream:
// a timeout, a disconnect, a transport error or shutdown. Once the player
// name is known the handshake already gave up everything of value, so the
// connection counts as completed.
func (m *Machine) Fail(reason events.Reason) {
	if m.Done() {
		return
	}
	if m.state == StateAwaitPlayerInfo && m.hasName() {
		m.logger.Debug().Str("reason", string(reason)).Msg("client left after player info")
		m.complete()
		return
	}
	m.terminate(reason)
}

// FailWith classifies a codec error and terminates accordingly.
func (m *Machine) FailWith(err error) {
	m.Fail(ReasonForError(err))
}

// ReasonForError maps codec errors to termination reasons. Timeouts and
// transport failures all map to io_error here.
func ReasonForError(err error) events.Reason {
	switch {
	case err == nil:
		return events.ReasonNone
	case errors.Is(err, protocol.ErrClosed):
		return events.ReasonDisconnected
	case errors.Is(err, protocol.ErrTruncated):
		return events.ReasonTruncated
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return events.ReasonFrameTooLarge
	case errors.Is(err, protocol.ErrInvalidFrame):
		return events.ReasonInvalidFrame
	case errors.Is(err, protocol.ErrMalformed):
		return events.ReasonMalformedPayload
	default:
		return events.ReasonIOError
	}
}

func (m *Machine) onConnectRequest(pkt protocol.Packet) []protocol.Packet {
	if pkt.ID != protocol.PktConnectRequest {
		m.unexpected(pkt)
		return nil
	}

	req, err := m.parser.ParseConnectRequest(pkt.Payload)
	if err != nil {
		m.logger.Warn().Err(err).Msg("malformed connect request")
		m.terminate(events.ReasonMalformedPayload)
		return nil
	}

	release, ok := req.Release()
	if !ok {
		m.logger.Warn().Str("signature", req.Signature).Msg("> unknown ConnectRequest signature")
		m.terminate(events.ReasonBadSignature)
		return nil
	}

	m.fp.Capture(events.FieldVersion, req.Signature)
	m.fp.Capture(events.FieldRelease, release)
	m.logger.Debug().Str("version", release).Msg("> ConnectRequest")

	if m.gate.Required() {
		m.gate.challenge()
		m.fp.MarkPasswordRequested()
		m.state = StateAwaitPassword
		return []protocol.Packet{protocol.BuildRequestPassword()}
	}

	m.state = StateAwaitPlayerInfo
	return []protocol.Packet{protocol.BuildContinueConnecting(m.opts.PlayerSlot)}
}

func (m *Machine) onSendPassword(pkt protocol.Packet) []protocol.Packet {
	if pkt.ID != protocol.PktSendPassword {
		m.unexpected(pkt)
		return nil
	}

	pw, err := m.parser.ParseSendPassword(pkt.Payload)
	if err != nil {
		m.logger.Warn().Err(err).Msg("malformed password packet")
		m.terminate(events.ReasonMalformedPayload)
		return nil
	}

	m.gate.answer()
	m.fp.Capture(events.FieldPasswordAttempt, pw.Password)
	m.logger.Debug().Str("password", pw.Password).Msg("> SendPassword")

	if m.opts.Policy == PolicyReject {
		m.terminate(events.ReasonPasswordRejected)
		return []protocol.Packet{protocol.BuildKick(RejectReason)}
	}

	m.state = StateAwaitPlayerInfo
	return []protocol.Packet{protocol.BuildContinueConnecting(m.opts.PlayerSlot)}
}

func (m *Machine) onPlayerInfo(pkt protocol.Packet) []protocol.Packet {
	switch pkt.ID {
	case protocol.PktPlayerInfo:
		if m.hasName() {
			m.ignore(pkt)
			return nil
		}
		info, err := m.parser.ParsePlayerInfo(pkt.Payload)
		if err != nil {
			m.logger.Warn().Err(err).Msg("malformed player info")
			m.terminate(events.ReasonMalformedPayload)
			return nil
		}
		m.fp.Capture(events.FieldPlayerName, info.Name)
		m.logger.Debug().Str("name", info.Name).Msg("> PlayerInfo")

	case protocol.PktClientUUID:
		id, err := m.parser.ParseClientUUID(pkt.Payload)
		if err != nil {
			m.logger.Warn().Err(err).Msg("malformed client uuid")
			m.terminate(events.ReasonMalformedPayload)
			return nil
		}
		m.fp.Capture(events.FieldPlayerUUID, id.UUID)
		m.logger.Debug().Str("uuid", id.UUID).Msg("> ClientUUID")

	default:
		if m.hasName() {
			// The client has moved on past the info packets.
			m.complete()
			return nil
		}
		m.ignore(pkt)
		return nil
	}

	if m.hasName() && m.hasUUID() {
		m.complete()
	}
	return nil
}

func (m *Machine) hasName() bool {
	_, ok := m.fp.Captured(events.FieldPlayerName)
	return ok
}

func (m *Machine) hasUUID() bool {
	_, ok := m.fp.Captured(events.FieldPlayerUUID)
	return ok
}

func (m *Machine) ignore(pkt protocol.Packet) {
	m.ignored++
	if m.ignored > MaxIgnoredPackets {
		m.logger.Warn().Int("ignored", m.ignored).Msg("too many packets without player info")
		m.terminate(events.ReasonTooManyPackets)
	}
}

func (m *Machine) unexpected(pkt protocol.Packet) {
	m.logger.Warn().
		Str("packet", protocol.PacketName(pkt.ID)).
		Str("state", m.state.String()).
		Msg("unexpected packet")
	m.terminate(events.ReasonUnexpectedPacket)
}

func (m *Machine) complete() {
	m.state = StateCompleted
	m.reason = events.ReasonNone
}

func (m *Machine) terminate(reason events.Reason) {
	m.state = StateTerminated
	m.reason = reason
}
