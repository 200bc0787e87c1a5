package fileio

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLZ4RoundTrip(t *testing.T) {
	var c LZ4Compressor
	data := bytes.Repeat([]byte("compress me please "), 2000)

	block, err := c.Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(block), len(data))
	assert.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(block))

	out, err := c.Decompress(block)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestLZ4RandomDataDoesNotShrink(t *testing.T) {
	var c LZ4Compressor
	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	block, err := c.Compress(data)
	if err != nil {
		assert.ErrorIs(t, err, ErrIncompressible)
		return
	}
	assert.GreaterOrEqual(t, len(block), len(data))
}

func TestLZ4DecompressRejectsBadBlocks(t *testing.T) {
	var c LZ4Compressor

	_, err := c.Decompress([]byte{1, 2})
	assert.Error(t, err)

	huge := make([]byte, 8)
	binary.LittleEndian.PutUint32(huge, 1<<31)
	_, err = c.Decompress(huge)
	assert.Error(t, err)

	block, err := c.Compress(bytes.Repeat([]byte("a"), 1000))
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(block, 2000)
	_, err = c.Decompress(block)
	assert.Error(t, err)
}
