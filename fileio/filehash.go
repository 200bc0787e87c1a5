package fileio

import (
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// GetFileDigest returns xxhash64 digest of given file
func GetFileDigest(file string) (uint64, error) {
	handle, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer handle.Close()

	hash := xxhash.New()
	if _, err := io.CopyBuffer(hash, handle, make([]byte, 64*1024)); err != nil {
		return 0, err
	}

	return hash.Sum64(), nil
}

// NewDigest returns hash for incrementally digesting a file as it is written
func NewDigest() *xxhash.Digest {
	return xxhash.New()
}
