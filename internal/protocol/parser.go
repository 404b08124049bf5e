package protocol

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxStringLength bounds any single string read from a payload.
const maxStringLength = 1024

// PayloadReader reads typed fields from a packet payload.
type PayloadReader struct {
	buf []byte
	off int
}

// NewPayloadReader creates a reader over payload.
func NewPayloadReader(payload []byte) *PayloadReader {
	return &PayloadReader{buf: payload}
}

// Remaining returns the number of unread bytes.
func (r *PayloadReader) Remaining() int {
	return len(r.buf) - r.off
}

// ReadByte reads a single byte.
func (r *PayloadReader) ReadByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, fmt.Errorf("%w: unexpected end of payload", ErrMalformed)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

// Skip discards n bytes.
func (r *PayloadReader) Skip(n int) error {
	if n < 0 || r.Remaining() < n {
		return fmt.Errorf("%w: cannot skip %d of %d bytes", ErrMalformed, n, r.Remaining())
	}
	r.off += n
	return nil
}

// Read7BitInt reads a .NET 7-bit encoded integer (at most 5 bytes).
func (r *PayloadReader) Read7BitInt() (int, error) {
	var result uint32
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return int(int32(result)), nil
		}
	}
	return 0, fmt.Errorf("%w: 7-bit integer too long", ErrMalformed)
}

// ReadString reads a 7-bit length-prefixed string. Invalid UTF-8 is replaced
// rather than rejected since captured values are recorded as-is.
func (r *PayloadReader) ReadString() (string, error) {
	n, err := r.Read7BitInt()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringLength {
		return "", fmt.Errorf("%w: string length %d", ErrMalformed, n)
	}
	if r.Remaining() < n {
		return "", fmt.Errorf("%w: string of %d bytes with %d remaining", ErrMalformed, n, r.Remaining())
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return strings.ToValidUTF8(s, "�"), nil
}

// ConnectRequest is the client's opening packet (0x01).
type ConnectRequest struct {
	Signature string
}

// Release returns the part of the signature after "Terraria", and whether
// the signature carried that prefix at all.
func (c ConnectRequest) Release() (string, bool) {
	return strings.CutPrefix(c.Signature, "Terraria")
}

// SendPassword carries the client's password attempt (0x26).
type SendPassword struct {
	Password string
}

// PlayerInfo is the subset of packet 0x04 the honeypot keeps.
type PlayerInfo struct {
	Slot        byte
	SkinVariant byte
	Hair        byte
	Name        string
}

// ClientUUID carries the client's persistent identifier (0x44).
type ClientUUID struct {
	UUID string
}

// HandshakeParser decodes the client -> server handshake payloads.
type HandshakeParser struct {
	logger zerolog.Logger
}

// NewHandshakeParser creates a new parser for handshake payloads.
func NewHandshakeParser() *HandshakeParser {
	return &HandshakeParser{
		logger: log.With().Str("component", "handshake_parser").Logger(),
	}
}

// ParseConnectRequest handles packet 0x01.
func (p *HandshakeParser) ParseConnectRequest(payload []byte) (ConnectRequest, error) {
	r := NewPayloadReader(payload)
	sig, err := r.ReadString()
	if err != nil {
		return ConnectRequest{}, fmt.Errorf("failed to parse connect request: %w", err)
	}
	p.checkRemaining(PktConnectRequest, r)
	return ConnectRequest{Signature: sig}, nil
}

// ParseSendPassword handles packet 0x26.
func (p *HandshakeParser) ParseSendPassword(payload []byte) (SendPassword, error) {
	r := NewPayloadReader(payload)
	pw, err := r.ReadString()
	if err != nil {
		return SendPassword{}, fmt.Errorf("failed to parse send password: %w", err)
	}
	p.checkRemaining(PktSendPassword, r)
	return SendPassword{Password: pw}, nil
}

// ParsePlayerInfo handles packet 0x04. Only the leading fields up to the
// name are decoded; the appearance and difficulty bytes that follow are left.
func (p *HandshakeParser) ParsePlayerInfo(payload []byte) (PlayerInfo, error) {
	r := NewPayloadReader(payload)
	var info PlayerInfo
	var err error

	if info.Slot, err = r.ReadByte(); err != nil {
		return PlayerInfo{}, fmt.Errorf("failed to parse player info: %w", err)
	}
	if info.SkinVariant, err = r.ReadByte(); err != nil {
		return PlayerInfo{}, fmt.Errorf("failed to parse player info: %w", err)
	}
	if info.Hair, err = r.ReadByte(); err != nil {
		return PlayerInfo{}, fmt.Errorf("failed to parse player info: %w", err)
	}
	if info.Name, err = r.ReadString(); err != nil {
		return PlayerInfo{}, fmt.Errorf("failed to parse player info: %w", err)
	}
	return info, nil
}

// ParseClientUUID handles packet 0x44.
func (p *HandshakeParser) ParseClientUUID(payload []byte) (ClientUUID, error) {
	r := NewPayloadReader(payload)
	id, err := r.ReadString()
	if err != nil {
		return ClientUUID{}, fmt.Errorf("failed to parse client uuid: %w", err)
	}
	p.checkRemaining(PktClientUUID, r)
	return ClientUUID{UUID: id}, nil
}

func (p *HandshakeParser) checkRemaining(id byte, r *PayloadReader) {
	if n := r.Remaining(); n > 0 {
		p.logger.Warn().
			Str("packet", PacketName(id)).
			Int("remaining", n).
			Msg("finished reading packet but didn't reach end of payload")
	}
}
