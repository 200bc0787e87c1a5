// Package config loads the server daemon settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"go_async_sockets/constants"
	"go_async_sockets/fileio"
	"go_async_sockets/networking"
	server "go_async_sockets/server/controller"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// File mirrors the YAML configuration file
type File struct {
	Listen              string        `yaml:"listen"`
	Port                int           `yaml:"port"`
	Limit               int           `yaml:"limit"`
	Root                string        `yaml:"root"`
	BufferSize          int           `yaml:"buffer_size"`
	ChunkSizeKB         int           `yaml:"chunk_size_kb"`
	MaxPayload          uint32        `yaml:"max_payload"`
	SendQueue           int           `yaml:"send_queue"`
	DSCP                int           `yaml:"dscp"`
	HeartbeatTimeout    time.Duration `yaml:"heartbeat_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	Compress            bool          `yaml:"compress"`
	Cipher              string        `yaml:"cipher"`
	Key                 string        `yaml:"key"`
	LogLevel            string        `yaml:"log_level"`
	LogFormat           string        `yaml:"log_format"`
}

// Default returns settings used when no file is given
func Default() *File {
	return &File{
		Listen:           "0.0.0.0",
		Port:             constants.DEFAULT_PORT,
		Limit:            constants.DEFAULT_CONNECTION_LIMIT,
		BufferSize:       constants.DEFAULT_BUFFER_SIZE,
		ChunkSizeKB:      constants.DEFAULT_FILE_CHUNK_SIZE,
		MaxPayload:       constants.MAX_PAYLOAD_SIZE,
		SendQueue:        constants.DEFAULT_SEND_QUEUE,
		HeartbeatTimeout: constants.DEFAULT_HEARTBEAT_TIMEOUT,
		Cipher:           "aes",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads YAML file at path on top of the defaults. The result is not
// validated so that command line flags can still fill in missing values.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := Default()
	if err = yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Validate checks values that would otherwise fail at start
func (f *File) Validate() error {
	if f.Port < 0 || f.Port > 65535 {
		return fmt.Errorf("port %d out of range", f.Port)
	}
	if f.BufferSize < 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if f.MaxPayload > 0 && f.ChunkSizeKB*1024 > networking.ChunkLimit(f.MaxPayload) {
		return fmt.Errorf("chunk_size_kb %d does not fit max_payload %d with encryption overhead", f.ChunkSizeKB, f.MaxPayload)
	}
	if f.Root == "" {
		return fmt.Errorf("root path for storing files is required")
	}
	if info, err := os.Stat(f.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("invalid root folder %q", f.Root)
	}
	if _, err := f.Encrypter(); err != nil {
		return err
	}
	return nil
}

// Encrypter builds the configured encrypter, nil when no key is set
func (f *File) Encrypter() (networking.Encrypter, error) {
	if f.Key == "" {
		return nil, nil
	}
	switch f.Cipher {
	case "", "aes":
		return networking.NewCrypto([]byte(f.Key))
	case "secretbox":
		return networking.NewSecretBox([]byte(f.Key))
	default:
		return nil, fmt.Errorf("unknown cipher %q", f.Cipher)
	}
}

// ServerConfig converts the file into server configuration
func (f *File) ServerConfig(log *logrus.Entry) (server.Config, error) {
	enc, err := f.Encrypter()
	if err != nil {
		return server.Config{}, err
	}
	cfg := server.DefaultConfig()
	cfg.BufferSize = f.BufferSize
	cfg.ChunkSize = f.ChunkSizeKB * 1024
	cfg.MaxPayload = f.MaxPayload
	cfg.SendQueueLength = f.SendQueue
	cfg.DSCP = f.DSCP
	cfg.HeartbeatTimeout = f.HeartbeatTimeout
	cfg.HealthCheckInterval = f.HealthCheckInterval
	cfg.RootPath = f.Root
	cfg.Storage = fileio.NewBufferedStorage(cfg.ChunkSize)
	cfg.Encrypter = enc
	if f.Compress {
		cfg.Compressor = new(fileio.LZ4Compressor)
	}
	cfg.Logger = log
	return cfg, nil
}

// Logger configures the standard logrus logger from the file
func (f *File) Logger() (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.StandardLogger()
	logger.SetLevel(level)
	if f.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(logger), nil
}
