package networking

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"go_async_sockets/networking/opcode"
)

// HeaderSize is the fixed length of an encoded Header.
const HeaderSize = 6

var (
	// ErrNeedMoreData means the buffer does not yet hold a complete frame.
	ErrNeedMoreData = errors.New("need more data")
	// ErrMalformed means the buffer can never yield a valid frame.
	ErrMalformed = errors.New("malformed frame")
)

// Header contains static message parts
type Header struct {
	Opcode uint8
	Flags  uint8
	Len    uint32
	// Followed by Len * bytes payload.
}

// Packet contains Header + payload
type Packet struct {
	Header
	Payload []byte
}

// Compressed reports whether the payload went through the compressor.
func (h *Header) Compressed() bool {
	return h.Flags&opcode.FLAG_COMPRESSED != 0
}

// Encrypted reports whether the payload went through the encrypter.
func (h *Header) Encrypted() bool {
	return h.Flags&opcode.FLAG_ENCRYPTED != 0
}

// DecodeHeader decodes slice of bytes to Header
func DecodeHeader(message []byte) (*Header, error) {
	if len(message) != HeaderSize {
		return nil, fmt.Errorf("header length should always be %d bytes", HeaderSize)
	}

	header := new(Header)
	buffer := bytes.NewBuffer(message)
	if err := binary.Read(buffer, binary.LittleEndian, header); err != nil {
		return nil, err
	}

	if !opcode.Valid(header.Opcode) {
		return header, fmt.Errorf("%w: unknown message type %d", ErrMalformed, header.Opcode)
	}
	if header.Flags&^opcode.FLAG_MASK != 0 {
		return header, fmt.Errorf("%w: unknown flags %#x", ErrMalformed, header.Flags)
	}

	return header, nil
}

// PacketToBytes encodes packet to slice of bytes
func PacketToBytes(packet *Packet) ([]byte, error) {
	if uint64(len(packet.Payload)) > math.MaxUint32 {
		return nil, errors.New("payload does not fit 32 bit length")
	}

	packet.Len = uint32(len(packet.Payload))

	buffer := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(packet.Payload)))
	if err := binary.Write(buffer, binary.LittleEndian, packet.Header); err != nil {
		return nil, err
	}

	return append(buffer.Bytes(), packet.Payload...), nil
}

// TryExtractFrame takes the next complete frame from the head of buffer.
// It returns ErrNeedMoreData without touching the buffer when the frame is
// incomplete, and an ErrMalformed error when the header is invalid or the
// declared payload is larger than maxPayload. The returned payload does not
// alias buffer.
func TryExtractFrame(buffer []byte, maxPayload uint32) (*Packet, []byte, error) {
	if len(buffer) < HeaderSize {
		return nil, buffer, ErrNeedMoreData
	}

	header, err := DecodeHeader(buffer[:HeaderSize])
	if err != nil {
		return nil, buffer, err
	}

	if header.Len > maxPayload {
		return nil, buffer, fmt.Errorf("%w: payload length %d exceeds limit %d", ErrMalformed, header.Len, maxPayload)
	}

	end := HeaderSize + int(header.Len)
	if len(buffer) < end {
		return nil, buffer, ErrNeedMoreData
	}

	packet := &Packet{Header: *header}
	packet.Payload = make([]byte, header.Len)
	copy(packet.Payload, buffer[HeaderSize:end])

	return packet, buffer[end:], nil
}
