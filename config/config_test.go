package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go_async_sockets/constants"
	"go_async_sockets/fileio"
	"go_async_sockets/networking"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
listen: 127.0.0.1
port: 7000
limit: 16
root: `+root+`
chunk_size_kb: 64
heartbeat_timeout: 2s
health_check_interval: 30s
compress: true
cipher: secretbox
key: hunter2
log_level: debug
`)

	f, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, "127.0.0.1", f.Listen)
	assert.Equal(t, 7000, f.Port)
	assert.Equal(t, 16, f.Limit)
	assert.Equal(t, root, f.Root)
	assert.Equal(t, 64, f.ChunkSizeKB)
	assert.Equal(t, 2*time.Second, f.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, f.HealthCheckInterval)
	assert.True(t, f.Compress)

	// Unset keys keep their defaults.
	assert.Equal(t, constants.DEFAULT_BUFFER_SIZE, f.BufferSize)
	assert.Equal(t, uint32(constants.MAX_PAYLOAD_SIZE), f.MaxPayload)
	assert.Equal(t, constants.DEFAULT_SEND_QUEUE, f.SendQueue)

	cfg, err := f.ServerConfig(logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	assert.Equal(t, 64*1024, cfg.ChunkSize)
	assert.Equal(t, root, cfg.RootPath)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.IsType(t, new(fileio.LZ4Compressor), cfg.Compressor)
	assert.IsType(t, new(networking.SecretBox), cfg.Encrypter)
	assert.NotNil(t, cfg.Storage)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "port: [not a number"))
	assert.Error(t, err)

	f, err := Load(writeConfig(t, "port: 7000\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, f.Port)
	assert.Error(t, f.Validate(), "root is required")
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	tests := map[string]func(f *File){
		"port out of range":  func(f *File) { f.Port = 70000 },
		"negative buffer":    func(f *File) { f.BufferSize = -1 },
		"missing root":       func(f *File) { f.Root = filepath.Join(root, "nope") },
		"root is a file":     func(f *File) { f.Root = file },
		"unknown cipher":     func(f *File) { f.Key = "k"; f.Cipher = "rot13" },
		"bad aes key length": func(f *File) { f.Key = "short"; f.Cipher = "aes" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			f := Default()
			f.Root = root
			require.NoError(t, f.Validate())
			mutate(f)
			assert.Error(t, f.Validate())
		})
	}
}

func TestEncrypter(t *testing.T) {
	f := Default()

	enc, err := f.Encrypter()
	require.NoError(t, err)
	assert.Nil(t, enc)

	f.Key = "0123456789abcdef"
	enc, err = f.Encrypter()
	require.NoError(t, err)
	assert.IsType(t, new(networking.Crypto), enc)

	f.Cipher = "secretbox"
	enc, err = f.Encrypter()
	require.NoError(t, err)
	assert.IsType(t, new(networking.SecretBox), enc)
}

func TestLogger(t *testing.T) {
	logger := logrus.StandardLogger()
	level, formatter := logger.GetLevel(), logger.Formatter
	t.Cleanup(func() {
		logger.SetLevel(level)
		logger.SetFormatter(formatter)
	})

	f := Default()
	f.LogLevel = "warning"
	f.LogFormat = "json"
	entry, err := f.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, entry.Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, entry.Logger.Formatter)

	f.LogLevel = "chatty"
	_, err = f.Logger()
	assert.Error(t, err)
}

func TestValidateChunkSizeAgainstMaxPayload(t *testing.T) {
	f := Default()
	f.Root = t.TempDir()
	f.MaxPayload = 64 * 1024
	f.ChunkSizeKB = 64
	assert.Error(t, f.Validate())

	f.ChunkSizeKB = 63
	assert.NoError(t, f.Validate())
}
