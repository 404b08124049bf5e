package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSevenBitIntRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 127, 128, 300, 16383, 16384, 1 << 21} {
		payload := NewPacketBuilder().Put7BitInt(v).Build()
		got, err := NewPayloadReader(payload).Read7BitInt()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestRead7BitIntTooLong(t *testing.T) {
	_, err := NewPayloadReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}).Read7BitInt()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadStringBounds(t *testing.T) {
	_, err := NewPayloadReader([]byte{0x05, 'a', 'b'}).ReadString()
	assert.ErrorIs(t, err, ErrMalformed)

	long := NewPacketBuilder().PutString(strings.Repeat("x", maxStringLength+1)).Build()
	_, err = NewPayloadReader(long).ReadString()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadStringReplacesInvalidUTF8(t *testing.T) {
	s, err := NewPayloadReader([]byte{0x03, 'a', 0xff, 'b'}).ReadString()
	require.NoError(t, err)
	assert.Equal(t, "a�b", s)
}

func TestSkip(t *testing.T) {
	r := NewPayloadReader([]byte{1, 2, 3})
	require.NoError(t, r.Skip(2))
	assert.Equal(t, 1, r.Remaining())
	assert.ErrorIs(t, r.Skip(2), ErrMalformed)
}

func TestParseConnectRequest(t *testing.T) {
	p := NewHandshakeParser()

	req, err := p.ParseConnectRequest(BuildConnectRequest("Terraria279").Payload)
	require.NoError(t, err)
	assert.Equal(t, "Terraria279", req.Signature)

	release, ok := req.Release()
	assert.True(t, ok)
	assert.Equal(t, "279", release)

	_, ok = ConnectRequest{Signature: "Minecraft"}.Release()
	assert.False(t, ok)

	_, err = p.ParseConnectRequest(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseSendPassword(t *testing.T) {
	p := NewHandshakeParser()

	pw, err := p.ParseSendPassword(BuildSendPassword("hunter2").Payload)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw.Password)

	pw, err = p.ParseSendPassword(BuildSendPassword("").Payload)
	require.NoError(t, err)
	assert.Equal(t, "", pw.Password)
}

func TestParsePlayerInfo(t *testing.T) {
	p := NewHandshakeParser()

	info, err := p.ParsePlayerInfo(BuildPlayerInfo(3, "Andrew").Payload)
	require.NoError(t, err)
	assert.Equal(t, byte(3), info.Slot)
	assert.Equal(t, "Andrew", info.Name)

	_, err = p.ParsePlayerInfo([]byte{0, 0})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseClientUUID(t *testing.T) {
	p := NewHandshakeParser()

	id, err := p.ParseClientUUID(BuildClientUUID("abc").Payload)
	require.NoError(t, err)
	assert.Equal(t, "abc", id.UUID)
}

func TestBuildKickLayout(t *testing.T) {
	r := NewPayloadReader(BuildKick("Incorrect password.").Payload)

	mode, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, TextLiteral, mode)

	text, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "Incorrect password.", text)
	assert.Zero(t, r.Remaining())
}

func TestPacketName(t *testing.T) {
	assert.Equal(t, "ConnectRequest", PacketName(PktConnectRequest))
	assert.Equal(t, "0x99", PacketName(0x99))
	assert.Equal(t, "SendPassword[8 bytes]", BuildSendPassword("hunter2").String())
}
