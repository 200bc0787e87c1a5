package networking

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go_async_sockets/fileio"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrDuplicateTransfer  = errors.New("file transfer already in progress")
	ErrNoActiveTransfer   = errors.New("no file transfer in progress")
	ErrTransferOverflow   = errors.New("chunk exceeds announced file size")
	ErrIncompleteTransfer = errors.New("file transfer ended before all bytes arrived")
	ErrInvalidFileName    = errors.New("invalid file name")
	ErrDigestMismatch     = errors.New("file digest mismatch")
)

// FileTransferState describes a file in flight from a peer
type FileTransferState struct {
	DestinationPath string
	TotalSize       uint64
	BytesReceived   uint64
	StartedAt       time.Time
	// Folder transfers carry a tar archive unpacked into DestinationPath.
	Folder bool
}

// partSeq keeps part file names of concurrent transfers apart.
var partSeq atomic.Uint64

// FileReceiver reassembles one incoming file at a time from FileStart,
// FileChunk and FileEnd messages. The file is complete as soon as the
// announced number of bytes has arrived; FileEnd only confirms the digest.
// Bytes go to a part file of their own and are moved to the destination on
// completion, so receivers sharing a root never write to the same file.
// Mutating methods must be called from a single goroutine; Active may be
// called from any goroutine.
type FileReceiver struct {
	storage fileio.Storage
	root    string

	mu     sync.Mutex
	active *FileTransferState
	digest *xxhash.Digest
	part   string

	// Completed file still waiting for its FileEnd confirmation.
	pendingPath   string
	pendingDigest uint64
	pending       bool
}

// NewFileReceiver stores received files under root
func NewFileReceiver(storage fileio.Storage, root string) *FileReceiver {
	return &FileReceiver{storage: storage, root: root}
}

// Active returns copy of the transfer in progress, if any
func (r *FileReceiver) Active() (FileTransferState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return FileTransferState{}, false
	}
	return *r.active, true
}

// Start opens destination for announced file. A zero length file completes
// immediately, in which case its path is returned as completed.
func (r *FileReceiver) Start(msg *StartFileTransfer) (completed string, err error) {
	return r.start(msg, false)
}

// StartFolder is Start for a folder archive. The archive is unpacked into
// root/name once complete and the folder path is returned as completed.
func (r *FileReceiver) StartFolder(msg *StartFileTransfer) (completed string, err error) {
	return r.start(msg, true)
}

func (r *FileReceiver) start(msg *StartFileTransfer, folder bool) (string, error) {
	r.mu.Lock()
	busy := r.active != nil
	r.mu.Unlock()
	if busy {
		return "", ErrDuplicateTransfer
	}

	name, err := cleanFileName(msg.FileName)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(r.root, name)
	part := filepath.Join(r.root, fmt.Sprintf(".%s.%d.part", name, partSeq.Add(1)))
	if err = r.storage.OpenForWrite(part); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.active = &FileTransferState{
		DestinationPath: dest,
		TotalSize:       msg.FileSize,
		StartedAt:       time.Now(),
		Folder:          folder,
	}
	r.digest = fileio.NewDigest()
	r.part = part
	r.mu.Unlock()

	if msg.FileSize == 0 {
		return dest, r.finish()
	}
	return "", nil
}

// Chunk appends data to the active file. It returns progress after the
// write and the destination path once the last byte has arrived.
func (r *FileReceiver) Chunk(data []byte) (progress FileTransferState, completed string, err error) {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return FileTransferState{}, "", ErrNoActiveTransfer
	}
	if active.BytesReceived+uint64(len(data)) > active.TotalSize {
		return *active, "", fmt.Errorf("%w: %d + %d > %d", ErrTransferOverflow,
			active.BytesReceived, len(data), active.TotalSize)
	}

	if err = r.storage.AppendChunk(r.part, data); err != nil {
		return *active, "", err
	}
	r.digest.Write(data)

	r.mu.Lock()
	active.BytesReceived += uint64(len(data))
	progress = *active
	r.mu.Unlock()

	if progress.BytesReceived == progress.TotalSize {
		return progress, progress.DestinationPath, r.finish()
	}
	return progress, "", nil
}

// End checks the sender's digest against the file completed last.
// ErrDigestMismatch leaves the file in place; other errors are sequence faults.
func (r *FileReceiver) End(msg *EndFileTransfer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return "", fmt.Errorf("%w: %d of %d bytes", ErrIncompleteTransfer, r.active.BytesReceived, r.active.TotalSize)
	}
	if !r.pending {
		return "", ErrNoActiveTransfer
	}
	r.pending = false
	if msg.Digest != r.pendingDigest {
		return r.pendingPath, fmt.Errorf("%w: got %016x, wrote %016x", ErrDigestMismatch, msg.Digest, r.pendingDigest)
	}
	return r.pendingPath, nil
}

// Abort drops the active transfer and removes the partial file
func (r *FileReceiver) Abort() {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.mu.Unlock()
	if active != nil {
		r.storage.Abort(r.part)
	}
}

func (r *FileReceiver) finish() error {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.pendingPath = active.DestinationPath
	r.pendingDigest = r.digest.Sum64()
	r.pending = true
	r.mu.Unlock()

	if err := r.storage.Finish(r.part); err != nil {
		r.storage.Remove(r.part)
		return err
	}
	if !active.Folder {
		return r.storage.Rename(r.part, active.DestinationPath)
	}
	defer r.storage.Remove(r.part)
	return r.storage.Extract(r.part, active.DestinationPath)
}

// cleanFileName accepts only a plain file name without any directory part
func cleanFileName(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return name, nil
}
