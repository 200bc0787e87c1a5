package comms

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go_async_sockets/constants"
	"go_async_sockets/fileio"
	"go_async_sockets/networking"
	"go_async_sockets/networking/opcode"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// ErrClosed is returned for sends on a closed client.
var ErrClosed = errors.New("connection closed")

// Options configures a Client
type Options struct {
	DSCP       int
	Compressor networking.Compressor
	Encrypter  networking.Encrypter
	// File chunk size in bytes.
	ChunkSize int
	// Largest payload accepted from the server. Outgoing chunks are sized to fit it as well.
	MaxPayload uint32
	// Directory receiving files sent by the server.
	RootPath string
	Storage  fileio.Storage
	// Leave heartbeats unanswered. Used to simulate a hung peer.
	IgnoreHeartbeats bool

	OnText func(header, text string)
	// OnFile receives the path of a completed file or unpacked folder.
	OnFile     func(path string)
	OnProgress func(received, total uint64)
	OnError    func(err error)
	Logger     *logrus.Entry
}

// Client is a connection to a server speaking the framed protocol
type Client struct {
	conn  net.Conn
	opts  Options
	files *networking.FileReceiver

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Connect opens TCP connection to target host address and starts reading
func Connect(address string, opts Options) (*Client, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = constants.DEFAULT_FILE_CHUNK_SIZE * 1024
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = constants.MAX_PAYLOAD_SIZE
	}
	if limit := networking.ChunkLimit(opts.MaxPayload); opts.ChunkSize > limit {
		opts.ChunkSize = limit
	}
	if opts.RootPath == "" {
		opts.RootPath = os.TempDir()
	}
	if opts.Storage == nil {
		opts.Storage = fileio.NewBufferedStorage(opts.ChunkSize)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	dial := &net.Dialer{Timeout: 10 * time.Second}
	// Connect to host.
	conn, err := dial.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Set TCP_NODELAY to always immediately send.
		tcp.SetNoDelay(true)
	}
	if opts.DSCP > 0 {
		// NOTE: On Windows by default it will not apply the value.
		ipv4.NewConn(conn).SetTOS(opts.DSCP << 2)
	}

	c := &Client{
		conn:  conn,
		opts:  opts,
		files: networking.NewFileReceiver(opts.Storage, opts.RootPath),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) pipeline() networking.Pipeline {
	return networking.Pipeline{Compressor: c.opts.Compressor, Encrypter: c.opts.Encrypter}
}

// SendText sends text message with header
func (c *Client) SendText(header, text string) error {
	raw, err := (&networking.TextMessage{Header: header, Text: text}).Bytes()
	if err != nil {
		return err
	}
	frame, err := c.pipeline().EncodePacket(opcode.TEXT, raw)
	if err != nil {
		return err
	}
	return c.WriteRaw(frame)
}

// SendFile streams file at path to the server
func (c *Client) SendFile(path string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return networking.StreamFile(c.opts.Storage, path, c.opts.ChunkSize, c.pipeline(), c.write)
}

// SendFolder archives folder dir and streams it to the server
func (c *Client) SendFolder(dir string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return networking.StreamFolder(c.opts.Storage, dir, c.opts.ChunkSize, c.pipeline(), c.write)
}

// SendHeartbeat asks the server for a heartbeat reply
func (c *Client) SendHeartbeat() error {
	return c.WriteRaw(networking.ControlPacket(opcode.HEARTBEAT))
}

// WriteRaw writes bytes to the connection as they are
func (c *Client) WriteRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_, err := c.conn.Write(data)
	return err
}

// Done is closed when the connection is gone
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the read loop, if any
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close closes socket
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// readLoop reads frames until the connection closes
func (c *Client) readLoop() {
	defer c.Close()
	defer c.files.Abort()

	buf := make([]byte, constants.DEFAULT_BUFFER_SIZE)
	var pending []byte
	for {
		read, err := c.conn.Read(buf)
		if read > 0 {
			pending = append(pending, buf[:read]...)
			for {
				packet, rest, perr := networking.TryExtractFrame(pending, c.opts.MaxPayload)
				if errors.Is(perr, networking.ErrNeedMoreData) {
					break
				}
				if perr != nil {
					c.fail(perr)
					return
				}
				pending = rest
				if herr := c.handle(packet); herr != nil {
					c.fail(herr)
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) handle(packet *networking.Packet) error {
	switch packet.Opcode {
	case opcode.HEARTBEAT:
		if c.opts.IgnoreHeartbeats {
			return nil
		}
		return c.WriteRaw(networking.ControlPacket(opcode.HEARTBEATACK))
	case opcode.HEARTBEATACK:
		return nil
	}

	raw, err := c.pipeline().Decode(packet.Payload, packet.Flags)
	if err != nil {
		// Undecodable message is dropped, connection stays.
		c.opts.Logger.WithError(err).Warn("Could not decode message from server")
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
		return nil
	}

	switch packet.Opcode {
	case opcode.TEXT:
		msg, err := networking.DecodeTextMessage(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", networking.ErrMalformed, err)
		}
		if c.opts.OnText != nil {
			c.opts.OnText(msg.Header, msg.Text)
		}
	case opcode.FILESTART, opcode.FOLDERSTART:
		msg, err := networking.DecodeStartFileTransfer(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", networking.ErrMalformed, err)
		}
		start := c.files.Start
		if packet.Opcode == opcode.FOLDERSTART {
			start = c.files.StartFolder
		}
		completed, err := start(msg)
		if err != nil {
			return err
		}
		c.completed(completed)
	case opcode.FILECHUNK:
		progress, completed, err := c.files.Chunk(raw)
		if err != nil {
			return err
		}
		if c.opts.OnProgress != nil {
			c.opts.OnProgress(progress.BytesReceived, progress.TotalSize)
		}
		c.completed(completed)
	case opcode.FILEEND:
		msg, err := networking.DecodeEndFileTransfer(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", networking.ErrMalformed, err)
		}
		if _, err = c.files.End(msg); err != nil {
			if errors.Is(err, networking.ErrDigestMismatch) {
				if c.opts.OnError != nil {
					c.opts.OnError(err)
				}
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *Client) completed(path string) {
	if path != "" && c.opts.OnFile != nil {
		c.opts.OnFile(path)
	}
}
