package fileio

import (
	"errors"
	"io"
	"os"
)

// ReadChunk reads up to size bytes of path starting at offset
func (b *BufferedStorage) ReadChunk(path string, offset int64, size int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf := make([]byte, size)
	read, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// Size returns size of file in bytes
func (b *BufferedStorage) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, errors.New("path is a directory: " + path)
	}
	return info.Size(), nil
}
