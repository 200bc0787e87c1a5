package fileio

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveAndExtract(t *testing.T) {
	src := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "docs", "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "README"), []byte("read me"), 0o600))

	s := NewBufferedStorage(512)
	archive, err := s.Archive(src)
	require.NoError(t, err)
	defer s.Remove(archive)

	dest := filepath.Join(t.TempDir(), "unpacked")
	require.NoError(t, s.Extract(archive, dest))

	got, err := os.ReadFile(filepath.Join(dest, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(got))

	got, err = os.ReadFile(filepath.Join(dest, "docs", "README"))
	require.NoError(t, err)
	assert.Equal(t, "read me", string(got))

	assert.DirExists(t, filepath.Join(dest, "docs", "empty"))
}

func TestArchiveRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewBufferedStorage(0).Archive(file)
	assert.Error(t, err)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../outside.txt", "/etc/owned", "a/../../outside.txt"} {
		archive := filepath.Join(t.TempDir(), "evil.tar")
		out, err := os.Create(archive)
		require.NoError(t, err)
		tw := tar.NewWriter(out)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     1,
		}))
		_, err = tw.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, tw.Close())
		require.NoError(t, out.Close())

		root := t.TempDir()
		err = NewBufferedStorage(0).Extract(archive, filepath.Join(root, "dest"))
		assert.ErrorIs(t, err, ErrUnsafeEntry, "entry %q", name)
		assert.NoFileExists(t, filepath.Join(root, "outside.txt"))
	}
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	from, to := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(from, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(to, []byte("old"), 0o644))

	s := NewBufferedStorage(0)
	require.NoError(t, s.Rename(from, to))

	got, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.NoFileExists(t, from)
}
