package fileio

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
)

// BufferedStorage does buffered writes to files on local disk
type BufferedStorage struct {
	bufferSize int

	mu      sync.Mutex
	writers map[string]*bufferedWriter
}

// bufferedWriter is one file open for writing
type bufferedWriter struct {
	file   *os.File
	writer *bufio.Writer
}

// NewBufferedStorage returns storage flushing writes every bufferSize bytes
func NewBufferedStorage(bufferSize int) *BufferedStorage {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	return &BufferedStorage{
		bufferSize: bufferSize,
		writers:    make(map[string]*bufferedWriter),
	}
}

// OpenForWrite creates new file for writing or returns error upon failing to do so
func (b *BufferedStorage) OpenForWrite(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, open := b.writers[path]; open {
		return ErrAlreadyOpen
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	b.writers[path] = &bufferedWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, b.bufferSize),
	}
	return nil
}

// AppendChunk writes chunk to file
func (b *BufferedStorage) AppendChunk(path string, chunk []byte) error {
	w := b.get(path)
	if w == nil {
		return ErrNotOpen
	}
	_, err := w.writer.Write(chunk)
	return err
}

// Finish writes any remaining bytes and closes the file
func (b *BufferedStorage) Finish(path string) error {
	w := b.take(path)
	if w == nil {
		return ErrNotOpen
	}
	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Abort closes the file and removes what was written so far
func (b *BufferedStorage) Abort(path string) error {
	w := b.take(path)
	if w == nil {
		return ErrNotOpen
	}
	w.file.Close()
	return os.Remove(path)
}

func (b *BufferedStorage) get(path string) *bufferedWriter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writers[path]
}

func (b *BufferedStorage) take(path string) *bufferedWriter {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := b.writers[path]
	delete(b.writers, path)
	return w
}
