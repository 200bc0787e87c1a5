package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go_async_sockets/config"
	"go_async_sockets/constants"
	server "go_async_sockets/server/controller"

	"github.com/akamensky/argparse"
)

func main() {
	args := argparse.NewParser("server", constants.Title)

	file := args.String("f", "config", &argparse.Options{Required: false, Help: "YAML configuration file. Flags override its values"})
	chunk := args.Int("c", "chunksize", &argparse.Options{Required: false, Help: "File send chunk size in KB"})
	pass := args.String("k", "key", &argparse.Options{Required: false, Help: "Encryption key. AES needs 16 or 32 characters, secretbox takes any passphrase"})
	cipher := args.Selector("e", "cipher", []string{"aes", "secretbox"}, &argparse.Options{Required: false, Help: "Payload cipher used with --key"})
	compress := args.Flag("z", "compress", &argparse.Options{Help: "Compress outgoing payloads with LZ4"})
	bind := args.String("l", "listen", &argparse.Options{Required: false, Help: "Listen on address"})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Listening port"})
	limit := args.Int("n", "limit", &argparse.Options{Required: false, Help: "Maximum number of connected clients"})
	buffer := args.Int("b", "buffer", &argparse.Options{Required: false, Help: "Socket read size in bytes"})
	path := args.String("r", "root", &argparse.Options{Required: false, Help: "Root path for storing files"})
	interval := args.Int("i", "interval", &argparse.Options{Required: false, Help: "Seconds between client health checks (0 disables)"})
	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS"})
	level := args.Selector("v", "verbosity", []string{"debug", "info", "warn", "error"}, &argparse.Options{Required: false, Help: "Log level"})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	cfg := config.Default()
	if *file != "" {
		if cfg, err = config.Load(*file); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
	}

	// Explicit flags win over the file.
	if *chunk > 0 {
		cfg.ChunkSizeKB = *chunk
	}
	if *pass != "" {
		cfg.Key = *pass
	}
	if *cipher != "" {
		cfg.Cipher = *cipher
	}
	if *compress {
		cfg.Compress = true
	}
	if *bind != "" {
		cfg.Listen = *bind
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *limit > 0 {
		cfg.Limit = *limit
	}
	if *buffer > 0 {
		cfg.BufferSize = *buffer
	}
	if *path != "" {
		cfg.Root = filepath.Clean(*path)
	}
	if *interval > 0 {
		cfg.HealthCheckInterval = time.Duration(*interval) * time.Second
	}
	if *dscp > 0 {
		cfg.DSCP = *dscp
	}
	if *level != "" {
		cfg.LogLevel = *level
	}

	if err = cfg.Validate(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	log, err := cfg.Logger()
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	srvCfg, err := cfg.ServerConfig(log)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	srv := server.NewServer(srvCfg)
	events := srv.Events()
	events.OnMessageReceived(func(id int, header, text string) {
		log.WithField("client_id", id).WithField("header", header).Info(text)
	})
	events.OnFileTransferProgress(func(id int, received, total uint64) {
		log.WithField("client_id", id).Debugf("Received %d / %d bytes", received, total)
	})
	events.OnErrorThrown(func(description string) {
		log.Error(description)
	})

	if err = srv.StartListening(cfg.Listen, cfg.Port, cfg.Limit); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	srv.Shutdown()
}
