// Package protocol implements the Terraria wire framing and the handful of
// packet payloads the honeypot needs to get through a connection handshake.
// All multi-byte integers are little-endian and every frame starts with a
// 2-byte length prefix that counts itself.
package protocol

import "fmt"

// Packet ids used during the connection handshake.
const (
	// Client -> server
	PktConnectRequest byte = 0x01 // "Terraria<release>" signature
	PktPlayerInfo     byte = 0x04 // Slot, skin, hair, name, ...
	PktSendPassword   byte = 0x26 // Password attempt
	PktClientUUID     byte = 0x44 // Client UUID string

	// Server -> client
	PktKick               byte = 0x02 // Disconnect with reason
	PktContinueConnecting byte = 0x03 // Assigned player slot
	PktRequestPassword    byte = 0x25 // No payload
)

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 2

// HeaderSize is the length prefix plus the packet id.
const HeaderSize = LengthPrefixSize + 1

// DefaultMaxFrameSize bounds a single frame, length prefix included.
// Nothing a client sends during the handshake comes close to this.
const DefaultMaxFrameSize = 5 * 1024

// MaxEncodableFrame is the largest frame the u16 length prefix can describe.
const MaxEncodableFrame = 0xFFFF

// Packet is a single framed protocol message.
type Packet struct {
	ID      byte
	Payload []byte
}

// Len returns the encoded frame size of the packet.
func (p Packet) Len() int {
	return HeaderSize + len(p.Payload)
}

// String returns a short description for logging.
func (p Packet) String() string {
	return fmt.Sprintf("%s[%d bytes]", PacketName(p.ID), len(p.Payload))
}

var packetNames = map[byte]string{
	PktConnectRequest:     "ConnectRequest",
	PktKick:               "Kick",
	PktContinueConnecting: "ContinueConnecting",
	PktPlayerInfo:         "PlayerInfo",
	PktRequestPassword:    "RequestPassword",
	PktSendPassword:       "SendPassword",
	PktClientUUID:         "ClientUUID",
}

// PacketName returns a readable name for a packet id.
func PacketName(id byte) string {
	if name, ok := packetNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", id)
}
