package networking

import (
	"errors"
	"fmt"

	"go_async_sockets/fileio"
	"go_async_sockets/networking/opcode"
)

var (
	// ErrCodecFailure wraps every error raised while decoding a payload.
	ErrCodecFailure = errors.New("codec failure")
	// ErrMissingEncrypter means an encrypted payload arrived but no key is configured.
	ErrMissingEncrypter = errors.New("payload is encrypted but no encrypter is configured")
)

// Compressor compresses and decompresses payloads
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Encrypter encrypts and decrypts payloads
type Encrypter interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Pipeline applies compression then encryption on send and the inverse on receive.
// Either collaborator may be nil.
type Pipeline struct {
	Compressor Compressor
	Encrypter  Encrypter
}

var fallbackCompressor Compressor = new(fileio.LZ4Compressor)

// Encode turns raw payload into wire payload and returns the header flags describing it
func (p Pipeline) Encode(raw []byte) ([]byte, uint8, error) {
	var flags uint8
	data := raw

	if p.Compressor != nil && len(raw) > 0 {
		compressed, err := p.Compressor.Compress(raw)
		if err != nil && !errors.Is(err, fileio.ErrIncompressible) {
			return nil, 0, fmt.Errorf("compress: %w", err)
		}
		// Send uncompressed if it did not shrink.
		if err == nil && len(compressed) < len(raw) {
			data = compressed
			flags |= opcode.FLAG_COMPRESSED
		}
	}

	if p.Encrypter != nil {
		encrypted, err := p.Encrypter.Encrypt(data)
		if err != nil {
			return nil, 0, fmt.Errorf("encrypt: %w", err)
		}
		data = encrypted
		flags |= opcode.FLAG_ENCRYPTED
	}

	return data, flags, nil
}

// Decode reverses Encode using only the flags recorded by the sender
func (p Pipeline) Decode(payload []byte, flags uint8) ([]byte, error) {
	data := payload

	if flags&opcode.FLAG_ENCRYPTED != 0 {
		if p.Encrypter == nil {
			return nil, fmt.Errorf("%w: %w", ErrCodecFailure, ErrMissingEncrypter)
		}
		plain, err := p.Encrypter.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt: %w", ErrCodecFailure, err)
		}
		data = plain
	}

	if flags&opcode.FLAG_COMPRESSED != 0 {
		c := p.Compressor
		if c == nil {
			c = fallbackCompressor
		}
		raw, err := c.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %w", ErrCodecFailure, err)
		}
		data = raw
	}

	return data, nil
}

// EncodePacket runs raw payload through the pipeline and serializes the frame
func (p Pipeline) EncodePacket(op uint8, raw []byte) ([]byte, error) {
	payload, flags, err := p.Encode(raw)
	if err != nil {
		return nil, err
	}
	return PacketToBytes(&Packet{
		Header:  Header{Opcode: op, Flags: flags},
		Payload: payload,
	})
}

// ControlPacket serializes a frame that bypasses the pipeline (heartbeats)
func ControlPacket(op uint8) []byte {
	out, _ := PacketToBytes(&Packet{Header: Header{Opcode: op}})
	return out
}
