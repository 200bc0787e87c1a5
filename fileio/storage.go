package fileio

import "errors"

var (
	// ErrNotOpen is returned when appending to a path that has no open writer.
	ErrNotOpen = errors.New("file is not open for writing")
	// ErrAlreadyOpen is returned when a path is opened for writing twice.
	ErrAlreadyOpen = errors.New("file is already open for writing")
	// ErrUnsafeEntry is returned for archive entries that would land outside the target folder.
	ErrUnsafeEntry = errors.New("archive entry escapes target folder")
)

// Storage is the disk collaborator used for file transfers
type Storage interface {
	// OpenForWrite creates or truncates path, creating parent directories.
	OpenForWrite(path string) error
	// AppendChunk appends chunk to a path previously opened for writing.
	AppendChunk(path string, chunk []byte) error
	// Finish flushes and closes the writer of path.
	Finish(path string) error
	// Abort closes the writer of path and removes the partial file.
	Abort(path string) error
	// ReadChunk reads at most size bytes at offset. A short or empty result means end of file.
	ReadChunk(path string, offset int64, size int) ([]byte, error)
	// Size returns file size in bytes.
	Size(path string) (int64, error)
	// Rename moves a finished file to its final path, replacing what is there.
	Rename(from, to string) error
	// Remove deletes path.
	Remove(path string) error
	// Archive packs folder dir into a temporary tar file and returns its path.
	Archive(dir string) (string, error)
	// Extract unpacks tar archive into folder dir.
	Extract(archive, dir string) error
}
