package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NetworkText modes as used by the Kick packet.
const (
	TextLiteral      byte = 0
	TextFormattable  byte = 1
	TextLocalizedKey byte = 2
)

// PacketBuilder constructs packet payloads.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// PutByte writes a single byte.
func (b *PacketBuilder) PutByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// PutBool writes a bool as one byte.
func (b *PacketBuilder) PutBool(v bool) *PacketBuilder {
	if v {
		return b.PutByte(1)
	}
	return b.PutByte(0)
}

// PutUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) PutUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// Put7BitInt writes v as a .NET 7-bit encoded integer.
func (b *PacketBuilder) Put7BitInt(v int) *PacketBuilder {
	u := uint32(v)
	for u >= 0x80 {
		b.buf.WriteByte(byte(u) | 0x80)
		u >>= 7
	}
	b.buf.WriteByte(byte(u))
	return b
}

// PutString writes a string the way .NET BinaryWriter does.
// Format: [length:7-bit int][utf-8 bytes...]
func (b *PacketBuilder) PutString(s string) *PacketBuilder {
	b.Put7BitInt(len(s))
	b.buf.WriteString(s)
	return b
}

// PutNetworkText writes a NetworkText value.
// Format: [mode:1][text:string], substitutions are never sent.
func (b *PacketBuilder) PutNetworkText(mode byte, text string) *PacketBuilder {
	b.PutByte(mode)
	b.PutString(text)
	if mode != TextLiteral {
		b.PutByte(0)
	}
	return b
}

// PutBytes writes raw bytes.
func (b *PacketBuilder) PutBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns a copy of the payload built so far.
func (b *PacketBuilder) Build() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// Packet returns the payload wrapped in a Packet with the given id.
func (b *PacketBuilder) Packet(id byte) Packet {
	return Packet{ID: id, Payload: b.Build()}
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Server -> client ----

// BuildRequestPassword creates a RequestPassword packet (0x25). It has no payload.
func BuildRequestPassword() Packet {
	return Packet{ID: PktRequestPassword}
}

// BuildContinueConnecting creates a ContinueConnecting packet (0x03).
// Format: [slot:1][server_checks_bytes:1]
func BuildContinueConnecting(slot byte) Packet {
	return NewPacketBuilder().
		PutByte(slot).
		PutBool(false).
		Packet(PktContinueConnecting)
}

// BuildKick creates a Kick packet (0x02) carrying a literal reason.
func BuildKick(reason string) Packet {
	return NewPacketBuilder().
		PutNetworkText(TextLiteral, reason).
		Packet(PktKick)
}

// ---- Client -> server, used by probes and tests ----

// BuildConnectRequest creates a ConnectRequest packet (0x01).
func BuildConnectRequest(signature string) Packet {
	return NewPacketBuilder().PutString(signature).Packet(PktConnectRequest)
}

// BuildSendPassword creates a SendPassword packet (0x26).
func BuildSendPassword(password string) Packet {
	return NewPacketBuilder().PutString(password).Packet(PktSendPassword)
}

// BuildPlayerInfo creates a PlayerInfo packet (0x04) with the fields the
// honeypot reads followed by a few appearance bytes.
// Format: [slot:1][skin:1][hair:1][name:string][hair_dye:1]...
func BuildPlayerInfo(slot byte, name string) Packet {
	return NewPacketBuilder().
		PutByte(slot).
		PutByte(0).
		PutByte(0).
		PutString(name).
		PutBytes([]byte{0, 0, 0, 0}).
		Packet(PktPlayerInfo)
}

// BuildClientUUID creates a ClientUUID packet (0x44).
func BuildClientUUID(id string) Packet {
	return NewPacketBuilder().PutString(id).Packet(PktClientUUID)
}
