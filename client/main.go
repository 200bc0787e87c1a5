package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go_async_sockets/client/comms"
	"go_async_sockets/constants"
	"go_async_sockets/fileio"
	"go_async_sockets/networking"

	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"
)

func main() {
	args := argparse.NewParser("client", constants.Title)

	bind := args.String("a", "address", &argparse.Options{Required: true, Help: "Target host address"})
	chunk := args.Int("c", "chunksize", &argparse.Options{Required: false, Help: "File chunk size in KB",
		Default: constants.DEFAULT_FILE_CHUNK_SIZE})
	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS",
		Default: constants.DEFAULT_DSCP})
	file := args.String("f", "file", &argparse.Options{Required: false, Help: "File to send"})
	folder := args.String("F", "folder", &argparse.Options{Required: false, Help: "Folder to send as tar archive"})
	header := args.String("H", "header", &argparse.Options{Required: false, Help: "Header of text message",
		Default: "text"})
	text := args.String("m", "message", &argparse.Options{Required: false, Help: "Text message to send"})
	pass := args.String("k", "key", &argparse.Options{Required: false, Help: "Encryption key. AES needs 16 or 32 characters, secretbox takes any passphrase"})
	cipher := args.Selector("e", "cipher", []string{"aes", "secretbox"}, &argparse.Options{Required: false, Help: "Payload cipher used with --key",
		Default: "aes"})
	compress := args.Flag("z", "compress", &argparse.Options{Help: "Compress payloads with LZ4"})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Target port",
		Default: constants.DEFAULT_PORT})
	root := args.String("r", "root", &argparse.Options{Required: false, Help: "Folder for files sent by the server",
		Default: "."})
	wait := args.Int("w", "wait", &argparse.Options{Required: false, Help: "Seconds to stay connected for messages from the server",
		Default: 0})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	if *file == "" && *folder == "" && *text == "" && *wait == 0 {
		fmt.Println("Nothing to do. Give --file, --folder, --message or --wait")
		os.Exit(1)
	}

	opts := comms.Options{
		DSCP:      *dscp,
		ChunkSize: *chunk * 1024,
		RootPath:  filepath.Clean(*root),
		OnText: func(header, text string) {
			fmt.Printf("[%s] %s\n", header, text)
		},
		OnFile: func(path string) {
			fmt.Println("Received file", path)
		},
		OnError: func(err error) {
			fmt.Println(err.Error())
		},
		Logger: logrus.NewEntry(logrus.StandardLogger()),
	}

	if *pass != "" {
		var enc networking.Encrypter
		if *cipher == "secretbox" {
			enc, err = networking.NewSecretBox([]byte(*pass))
		} else {
			enc, err = networking.NewCrypto([]byte(*pass))
		}
		if err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		opts.Encrypter = enc
	}
	if *compress {
		opts.Compressor = new(fileio.LZ4Compressor)
	}

	addr := net.JoinHostPort(*bind, strconv.Itoa(*port))

	// Connect to host.
	client, err := comms.Connect(addr, opts)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	fmt.Println("Connected to", addr)

	if *text != "" {
		if err = client.SendText(*header, *text); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
	}

	if *file != "" {
		fileName := filepath.Clean(*file)
		begin := time.Now()
		fmt.Println("Starting file transfer for", fileName)
		if err = client.SendFile(fileName); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		fmt.Println("Sent all data in", time.Since(begin))

		// Same digest the server checks against FileEnd.
		if digest, err := fileio.GetFileDigest(fileName); err == nil {
			fmt.Printf("xxhash64 %016x\n", digest)
		}
	}

	if *folder != "" {
		dir := filepath.Clean(*folder)
		begin := time.Now()
		fmt.Println("Starting folder transfer for", dir)
		if err = client.SendFolder(dir); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		fmt.Println("Sent folder in", time.Since(begin))
	}

	select {
	case <-client.Done():
		fmt.Println("Lost connection")
	case <-time.After(time.Duration(*wait) * time.Second):
	}

	// Close connection.
	client.Close()
	fmt.Println("Disconnected")
}
