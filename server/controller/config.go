package server

import (
	"os"
	"time"

	"go_async_sockets/constants"
	"go_async_sockets/fileio"
	"go_async_sockets/networking"

	"github.com/sirupsen/logrus"
)

// Config holds server settings. BufferSize, Compressor and Encrypter can be
// changed on a running server through the corresponding Server methods.
type Config struct {
	// Bytes requested from the socket per read.
	BufferSize int
	// Largest payload a client may declare in a frame header.
	MaxPayload uint32
	// File chunk size used when sending files to clients.
	ChunkSize int
	// Time a client has to answer a heartbeat.
	HeartbeatTimeout time.Duration
	// Period of the automatic health sweep. Zero disables it.
	HealthCheckInterval time.Duration
	// Outbound jobs queued per client before sends are refused.
	SendQueueLength int
	// Deadline for writing one outbound job.
	WriteTimeout time.Duration
	// Directory receiving files from clients.
	RootPath string
	// IPv4 DSCP applied to accepted connections. Zero leaves the OS default.
	DSCP int

	Storage    fileio.Storage
	Compressor networking.Compressor
	Encrypter  networking.Encrypter
	Logger     *logrus.Entry
}

// DefaultConfig returns configuration with the package defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:       constants.DEFAULT_BUFFER_SIZE,
		MaxPayload:       constants.MAX_PAYLOAD_SIZE,
		ChunkSize:        constants.DEFAULT_FILE_CHUNK_SIZE * 1024,
		HeartbeatTimeout: constants.DEFAULT_HEARTBEAT_TIMEOUT,
		SendQueueLength:  constants.DEFAULT_SEND_QUEUE,
		WriteTimeout:     constants.DEFAULT_WRITE_TIMEOUT,
		RootPath:         os.TempDir(),
	}
}

// withDefaults fills zero values
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = def.MaxPayload
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.SendQueueLength <= 0 {
		c.SendQueueLength = def.SendQueueLength
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RootPath == "" {
		c.RootPath = def.RootPath
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if limit := networking.ChunkLimit(c.MaxPayload); c.ChunkSize > limit {
		c.Logger.WithFields(logrus.Fields{
			"chunk_size":  c.ChunkSize,
			"max_payload": c.MaxPayload,
		}).Warnf("Chunk size lowered to %d bytes to fit max payload", limit)
		c.ChunkSize = limit
	}
	if c.Storage == nil {
		c.Storage = fileio.NewBufferedStorage(c.ChunkSize)
	}
	return c
}
