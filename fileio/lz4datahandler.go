package fileio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go_async_sockets/constants"

	"github.com/pierrec/lz4/v4"
)

// ErrIncompressible is returned when LZ4 could not shrink the block.
var ErrIncompressible = errors.New("block is not compressible")

// LZ4Compressor compresses blocks in LZ4. Compressed blocks are prefixed with
// their uncompressed length so the receiver can size its buffer.
type LZ4Compressor struct{}

// Compress attempts to compress a chunk in LZ4
func (LZ4Compressor) Compress(chunk []byte) ([]byte, error) {
	buffer := make([]byte, 4+lz4.CompressBlockBound(len(chunk)))
	compressedSize, err := lz4.CompressBlock(chunk, buffer[4:], nil)
	if err != nil {
		return nil, err
	}
	if compressedSize == 0 {
		// Chunk was not compressible.
		return nil, ErrIncompressible
	}
	binary.LittleEndian.PutUint32(buffer, uint32(len(chunk)))
	return buffer[:4+compressedSize], nil
}

// Decompress returns uncompressed data of given chunk
func (LZ4Compressor) Decompress(block []byte) ([]byte, error) {
	if len(block) < 4 {
		return nil, errors.New("lz4 block too short")
	}
	size := binary.LittleEndian.Uint32(block)
	if size > constants.MAX_DECOMPRESSED_SIZE {
		return nil, fmt.Errorf("lz4 block declares %d bytes, limit is %d", size, constants.MAX_DECOMPRESSED_SIZE)
	}
	buffer := make([]byte, size)
	actual, err := lz4.UncompressBlock(block[4:], buffer)
	if err != nil {
		return nil, err
	}
	if actual != int(size) {
		return nil, fmt.Errorf("lz4 block inflated to %d bytes, expected %d", actual, size)
	}
	return buffer, nil
}
