package fileio

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Rename moves from to to
func (b *BufferedStorage) Rename(from, to string) error {
	return os.Rename(from, to)
}

// Remove deletes path
func (b *BufferedStorage) Remove(path string) error {
	return os.Remove(path)
}

// Archive writes regular files and folders under dir to a temporary tar file.
// Symlinks and special files are skipped.
func (b *BufferedStorage) Archive(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a folder: %s", dir)
	}

	tmp, err := os.CreateTemp("", "folder-*.tar")
	if err != nil {
		return "", err
	}
	buffer := bufio.NewWriterSize(tmp, b.bufferSize)
	tarra := tar.NewWriter(buffer)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Format = tar.FormatPAX
		if err = tarra.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tarra, file)
		return err
	})
	if err == nil {
		err = tarra.Close()
	}
	if err == nil {
		err = buffer.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// Extract unpacks archive into dir, creating it when missing. Only folders
// and regular files are restored.
func (b *BufferedStorage) Extract(archive, dir string) error {
	file, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer file.Close()

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tarra := tar.NewReader(bufio.NewReaderSize(file, b.bufferSize))
	for {
		hdr, err := tarra.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: %q", ErrUnsafeEntry, hdr.Name)
		}
		target := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err = writeEntry(target, tarra, hdr.FileInfo().Mode().Perm()|0o600); err != nil {
				return err
			}
		}
	}
}

func writeEntry(target string, r io.Reader, mode fs.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
