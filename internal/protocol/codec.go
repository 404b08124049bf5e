package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Codec frames a byte stream into Packets and writes Packets back out.
// It keeps no state beyond its read buffer and is not safe for concurrent
// reads; writes go out as a single Write call per frame.
type Codec struct {
	r            *bufio.Reader
	w            io.Writer
	maxFrameSize int
}

// NewCodec wraps rw. A maxFrameSize outside (HeaderSize, MaxEncodableFrame]
// falls back to DefaultMaxFrameSize.
func NewCodec(rw io.ReadWriter, maxFrameSize int) *Codec {
	if maxFrameSize <= HeaderSize || maxFrameSize > MaxEncodableFrame {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{
		r:            bufio.NewReaderSize(rw, 512),
		w:            rw,
		maxFrameSize: maxFrameSize,
	}
}

// MaxFrameSize returns the frame size limit in effect.
func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// ReadPacket blocks until one complete frame has been read.
// Frame format: [2-byte LE length incl. prefix][id:1][payload...]
func (c *Codec) ReadPacket() (Packet, error) {
	var prefix [LengthPrefixSize]byte
	if n, err := io.ReadFull(c.r, prefix[:]); err != nil {
		return Packet{}, readError(n, err)
	}

	length := int(binary.LittleEndian.Uint16(prefix[:]))
	if length < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, length)
	}
	if length > c.maxFrameSize {
		return Packet{}, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, c.maxFrameSize)
	}

	body := make([]byte, length-LengthPrefixSize)
	if n, err := io.ReadFull(c.r, body); err != nil {
		return Packet{}, readError(LengthPrefixSize+n, err)
	}

	pkt := Packet{ID: body[0]}
	if len(body) > 1 {
		pkt.Payload = body[1:]
	}
	return pkt, nil
}

// WritePacket encodes pkt and writes the whole frame at once.
func (c *Codec) WritePacket(pkt Packet) error {
	frame, err := Encode(pkt)
	if err != nil {
		return err
	}
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write %s: %w", pkt, err)
	}
	return nil
}

// readError maps a short read to the codec's error taxonomy. consumed is the
// number of frame bytes already read. A transport error after part of a
// frame arrived still counts as truncation.
func readError(consumed int, err error) error {
	switch {
	case errors.Is(err, io.EOF) && consumed == 0:
		return ErrClosed
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrTruncated
	case consumed > 0:
		return fmt.Errorf("%w: %w", ErrTruncated, err)
	default:
		return fmt.Errorf("failed to read frame: %w", err)
	}
}

// Encode serializes a Packet into a complete frame.
func Encode(pkt Packet) ([]byte, error) {
	size := pkt.Len()
	if size > MaxEncodableFrame {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, MaxEncodableFrame)
	}

	frame := make([]byte, size)
	binary.LittleEndian.PutUint16(frame[:LengthPrefixSize], uint16(size))
	frame[LengthPrefixSize] = pkt.ID
	copy(frame[HeaderSize:], pkt.Payload)
	return frame, nil
}

// Decode parses exactly one frame from data.
func Decode(data []byte) (Packet, error) {
	if len(data) < LengthPrefixSize {
		return Packet{}, ErrTruncated
	}

	length := int(binary.LittleEndian.Uint16(data[:LengthPrefixSize]))
	if length < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, length)
	}
	if len(data) < length {
		return Packet{}, ErrTruncated
	}
	if len(data) > length {
		return Packet{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-length)
	}

	pkt := Packet{ID: data[LengthPrefixSize]}
	if length > HeaderSize {
		pkt.Payload = make([]byte, length-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:length])
	}
	return pkt, nil
}
