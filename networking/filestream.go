package networking

import (
	"fmt"
	"path/filepath"

	"go_async_sockets/fileio"
	"go_async_sockets/networking/opcode"
)

// StreamFile cuts the file at path into chunks of at most chunkSize bytes and
// passes the encoded FileStart, FileChunk... and FileEnd frames to out, in order.
// The pipeline is applied to each chunk separately so memory use is bounded by
// chunkSize regardless of file size.
func StreamFile(storage fileio.Storage, path string, chunkSize int, pipeline Pipeline, out func(frame []byte) error) error {
	return streamFile(storage, path, filepath.Base(path), opcode.FILESTART, chunkSize, pipeline, out)
}

// StreamFolder packs dir into a tar archive and streams it like StreamFile,
// announced by a FolderStart frame named after the folder.
func StreamFolder(storage fileio.Storage, dir string, chunkSize int, pipeline Pipeline, out func(frame []byte) error) error {
	name := filepath.Base(filepath.Clean(dir))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Errorf("%w: folder %q has no name", ErrInvalidFileName, dir)
	}

	archive, err := storage.Archive(dir)
	if err != nil {
		return err
	}
	defer storage.Remove(archive)

	return streamFile(storage, archive, name, opcode.FOLDERSTART, chunkSize, pipeline, out)
}

func streamFile(storage fileio.Storage, path, name string, op uint8, chunkSize int, pipeline Pipeline, out func(frame []byte) error) error {
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	size, err := storage.Size(path)
	if err != nil {
		return err
	}

	start := &StartFileTransfer{
		FileSize: uint64(size),
		FileName: name,
	}
	raw, err := start.Bytes()
	if err != nil {
		return err
	}
	frame, err := pipeline.EncodePacket(op, raw)
	if err != nil {
		return err
	}
	if err = out(frame); err != nil {
		return err
	}

	digest := fileio.NewDigest()
	var offset int64
	for offset < size {
		chunk, err := storage.ReadChunk(path, offset, chunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return fmt.Errorf("%s shrank to %d bytes during transfer", path, offset)
		}
		// Never send more than announced, even if the file grew meanwhile.
		if remaining := size - offset; int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		digest.Write(chunk)

		frame, err = pipeline.EncodePacket(opcode.FILECHUNK, chunk)
		if err != nil {
			return err
		}
		if err = out(frame); err != nil {
			return err
		}
		offset += int64(len(chunk))
	}

	end := &EndFileTransfer{Digest: digest.Sum64()}
	frame, err = pipeline.EncodePacket(opcode.FILEEND, end.Bytes())
	if err != nil {
		return err
	}
	return out(frame)
}
