package networking

import (
	"encoding/binary"
	"errors"
	"math"
)

var errShortPayload = errors.New("payload too short")

// TextMessage is payload of opcode 1
type TextMessage struct {
	Header string // Application defined message kind
	Text   string
}

// StartFileTransfer is payload of opcode 2
type StartFileTransfer struct {
	FileSize uint64 // Total bytes that will follow in chunks
	FileName string // Base name of the file
}

// EndFileTransfer is payload of opcode 4
type EndFileTransfer struct {
	Digest uint64 // xxhash64 of whole file
}

// Bytes encodes text message as [headerLen:2][header][text]
func (m *TextMessage) Bytes() ([]byte, error) {
	if len(m.Header) > math.MaxUint16 {
		return nil, errors.New("message header longer than 65535 bytes")
	}
	out := make([]byte, 2, 2+len(m.Header)+len(m.Text))
	binary.LittleEndian.PutUint16(out, uint16(len(m.Header)))
	out = append(out, m.Header...)
	return append(out, m.Text...), nil
}

// DecodeTextMessage decodes opcode 1 payload
func DecodeTextMessage(payload []byte) (*TextMessage, error) {
	if len(payload) < 2 {
		return nil, errShortPayload
	}
	hlen := int(binary.LittleEndian.Uint16(payload))
	if len(payload) < 2+hlen {
		return nil, errShortPayload
	}
	return &TextMessage{
		Header: string(payload[2 : 2+hlen]),
		Text:   string(payload[2+hlen:]),
	}, nil
}

// Bytes encodes file announcement as [size:8][nameLen:2][name]
func (s *StartFileTransfer) Bytes() ([]byte, error) {
	if len(s.FileName) > math.MaxUint16 {
		return nil, errors.New("file name longer than 65535 bytes")
	}
	out := make([]byte, 10, 10+len(s.FileName))
	binary.LittleEndian.PutUint64(out, s.FileSize)
	binary.LittleEndian.PutUint16(out[8:], uint16(len(s.FileName)))
	return append(out, s.FileName...), nil
}

// DecodeStartFileTransfer decodes opcode 2 payload
func DecodeStartFileTransfer(payload []byte) (*StartFileTransfer, error) {
	if len(payload) < 10 {
		return nil, errShortPayload
	}
	nlen := int(binary.LittleEndian.Uint16(payload[8:]))
	if len(payload) != 10+nlen {
		return nil, errors.New("file name length mismatch")
	}
	return &StartFileTransfer{
		FileSize: binary.LittleEndian.Uint64(payload),
		FileName: string(payload[10:]),
	}, nil
}

// Bytes encodes end of file message
func (e *EndFileTransfer) Bytes() []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), e.Digest)
}

// DecodeEndFileTransfer decodes opcode 4 payload
func DecodeEndFileTransfer(payload []byte) (*EndFileTransfer, error) {
	if len(payload) != 8 {
		return nil, errShortPayload
	}
	return &EndFileTransfer{Digest: binary.LittleEndian.Uint64(payload)}, nil
}
