package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go_async_sockets/constants"
	"go_async_sockets/networking"
	"go_async_sockets/server/worker"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

var (
	ErrAlreadyRunning   = errors.New("server is already running")
	ErrNotRunning       = errors.New("server is not running")
	ErrNotSuspended     = errors.New("server is not suspended")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrClientNotFound   = errors.New("client not found")
	ErrHeartbeatTimeout = errors.New("heartbeat timed out")
)

// State of the listener
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Suspended
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Server accepts client connections and runs a read loop and a send worker
// for each of them.
type Server struct {
	cfg     Config
	log     *logrus.Entry
	events  *Dispatcher
	clients *connectionTable

	bufferSize atomic.Int64
	nextID     atomic.Int64

	codecMu    sync.RWMutex
	compressor networking.Compressor
	encrypter  networking.Encrypter

	mu         sync.Mutex
	state      State
	listener   net.Listener
	acceptDone chan struct{}
	sweepStop  chan struct{}
	ip         string
	port       int
	limit      int

	wg sync.WaitGroup

	bind func(addr string) (net.Listener, error)
}

// NewServer creates server in Stopped state
func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:        cfg,
		log:        cfg.Logger,
		clients:    newConnectionTable(),
		compressor: cfg.Compressor,
		encrypter:  cfg.Encrypter,
	}
	s.events = newDispatcher(s.log)
	s.bind = s.listen
	s.bufferSize.Store(int64(cfg.BufferSize))
	return s
}

// Events returns the dispatcher for registering event handlers
func (s *Server) Events() *Dispatcher {
	return s.events
}

// StartListening binds new listening socket and starts accepting clients.
// A limit of zero or less uses the default connection limit.
func (s *Server) StartListening(ip string, port, limit int) error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Starting
	s.mu.Unlock()

	if port < 0 || port > 65535 {
		s.setState(Stopped)
		return fmt.Errorf("%w: port %d", ErrInvalidArgument, port)
	}
	if limit <= 0 {
		limit = constants.DEFAULT_CONNECTION_LIMIT
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	l, err := s.bind(addr)
	if err != nil {
		s.mu.Lock()
		if s.state == Starting {
			s.state = Stopped
		}
		s.mu.Unlock()
		return err
	}
	if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	s.mu.Lock()
	if s.state != Starting {
		// Shutdown ran while binding.
		s.mu.Unlock()
		l.Close()
		return ErrNotRunning
	}
	s.ip = ip
	s.port = port
	s.limit = limit
	stop := make(chan struct{})
	s.sweepStop = stop
	if s.cfg.HealthCheckInterval > 0 {
		s.wg.Add(1)
		go s.sweep(s.cfg.HealthCheckInterval, stop)
	}
	s.startAccepting(l)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"function": "StartListening",
		"address":  l.Addr().String(),
		"limit":    limit,
	}).Info("Listening")
	s.events.emitServerHasStarted(ip, port)
	return nil
}

// StopListening stops accepting new clients. Connected clients stay connected.
func (s *Server) StopListening() error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	l, done := s.listener, s.acceptDone
	s.listener = nil
	s.state = Suspended
	s.mu.Unlock()

	l.Close()
	<-done

	s.log.WithField("function", "StopListening").Info("Stopped accepting clients")
	return nil
}

// ResumeListening binds the listening socket again after StopListening
func (s *Server) ResumeListening() error {
	s.mu.Lock()
	if s.state != Suspended {
		s.mu.Unlock()
		return ErrNotSuspended
	}
	s.state = Starting
	addr := net.JoinHostPort(s.ip, strconv.Itoa(s.port))
	s.mu.Unlock()

	l, err := s.bind(addr)
	if err != nil {
		s.mu.Lock()
		if s.state == Starting {
			s.state = Suspended
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.state != Starting {
		s.mu.Unlock()
		l.Close()
		return ErrNotRunning
	}
	s.startAccepting(l)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"function": "ResumeListening",
		"address":  addr,
	}).Info("Resumed accepting clients")
	return nil
}

// Shutdown closes the listener and every client connection and waits for
// all connection goroutines to finish. The server may be started again.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.state == Stopped || s.state == Stopping {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopping
	l, done := s.listener, s.acceptDone
	s.listener = nil
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
	s.mu.Unlock()

	if l != nil {
		l.Close()
		<-done
	}

	for _, c := range s.clients.list() {
		s.disconnect(c.id, nil)
	}
	s.wg.Wait()

	s.setState(Stopped)
	s.log.WithField("function", "Shutdown").Info("Server shut down")
	return nil
}

// State returns current listener state
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the server accepts new clients
func (s *Server) IsRunning() bool {
	return s.State() == Running
}

// Addr returns the listening address or nil when not listening
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ip returns the address the server was started on
func (s *Server) Ip() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ip
}

// Port returns the port the server is bound to
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// IsConnected reports whether client id is connected
func (s *Server) IsConnected(id int) bool {
	_, ok := s.clients.get(id)
	return ok
}

// GetConnectedClients returns a copy of the connection table
func (s *Server) GetConnectedClients() map[int]ClientInfo {
	return s.clients.snapshot()
}

// Close disconnects client id. Closing an unknown or closed client does nothing.
func (s *Server) Close(id int) {
	s.disconnect(id, nil)
}

// ChangeSocketBufferSize sets the read size used by subsequent socket reads
func (s *Server) ChangeSocketBufferSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: buffer size %d", ErrInvalidArgument, n)
	}
	s.bufferSize.Store(int64(n))
	return nil
}

// SetCompressor sets compressor used for subsequent sends. Nil disables compression.
func (s *Server) SetCompressor(c networking.Compressor) {
	s.codecMu.Lock()
	defer s.codecMu.Unlock()
	s.compressor = c
}

// SetEncrypter sets encrypter used for subsequent sends and for decrypting. Nil disables encryption.
func (s *Server) SetEncrypter(e networking.Encrypter) {
	s.codecMu.Lock()
	defer s.codecMu.Unlock()
	s.encrypter = e
}

func (s *Server) pipeline() networking.Pipeline {
	s.codecMu.RLock()
	defer s.codecMu.RUnlock()
	return networking.Pipeline{Compressor: s.compressor, Encrypter: s.encrypter}
}

// SendText queues text message to client id
func (s *Server) SendText(id int, header, text string) error {
	return s.send(id, worker.TextJob(header, text))
}

// SendFile queues file at path to be streamed to client id
func (s *Server) SendFile(id int, path string) error {
	if _, err := s.cfg.Storage.Size(path); err != nil {
		return err
	}
	return s.send(id, worker.FileJob(s.cfg.Storage, path, s.cfg.ChunkSize))
}

// SendFolder queues folder dir to be archived and streamed to client id. The
// client unpacks it into a folder of the same name.
func (s *Server) SendFolder(id int, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a folder", ErrInvalidArgument, dir)
	}
	return s.send(id, worker.FolderJob(s.cfg.Storage, dir, s.cfg.ChunkSize))
}

func (s *Server) send(id int, job *worker.Outbound) error {
	c, ok := s.clients.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrClientNotFound, id)
	}
	if err := c.sender.Enqueue(job); err != nil {
		s.events.emitMessageFailed(id, err)
		return err
	}
	return nil
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Server) listen(addr string) (net.Listener, error) {
	lc := new(net.ListenConfig)
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not bind listening socket on %s: %w", addr, err)
	}
	return l, nil
}

// startAccepting must be called with s.mu held
func (s *Server) startAccepting(l net.Listener) {
	s.listener = l
	s.acceptDone = make(chan struct{})
	s.state = Running
	go s.acceptLoop(l, s.acceptDone, s.limit)
}

func (s *Server) acceptLoop(l net.Listener, done chan struct{}, limit int) {
	defer close(done)

	for {
		// Handle incoming connection.
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			current := s.listener == l
			if current {
				// Listener failed on its own rather than being closed by us.
				s.listener = nil
				s.state = Suspended
			}
			s.mu.Unlock()

			if current {
				l.Close()
				s.log.WithFields(logrus.Fields{
					"function": "acceptLoop",
					"error":    err.Error(),
				}).Error("Accepting connections failed")
				s.events.emitErrorThrown("accepting connections failed: " + err.Error())
			}
			return
		}

		s.admit(conn, limit)
	}
}

// admit registers a new connection unless the connection limit has been reached
func (s *Server) admit(conn net.Conn, limit int) {
	remote := conn.RemoteAddr().String()

	if s.clients.len() >= limit {
		s.log.WithFields(logrus.Fields{
			"function": "admit",
			"remote":   remote,
			"limit":    limit,
		}).Warn("Connection limit reached, refusing client")
		conn.Close()
		return
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		// Set TCP_NODELAY to always immediately send.
		tcp.SetNoDelay(true)
	}
	if s.cfg.DSCP > 0 {
		if err := ipv4.NewConn(conn).SetTOS(s.cfg.DSCP << 2); err != nil {
			s.log.WithError(err).Debug("Could not set DSCP")
		}
	}

	id := int(s.nextID.Add(1))
	c := &ClientState{
		id:          id,
		conn:        conn,
		remoteAddr:  remote,
		connectedAt: time.Now(),
		files:       networking.NewFileReceiver(s.cfg.Storage, s.cfg.RootPath),
		done:        make(chan struct{}),
	}
	c.sender = worker.NewSender(conn, worker.Options{
		QueueLength:  s.cfg.SendQueueLength,
		WriteTimeout: s.cfg.WriteTimeout,
		Pipeline:     s.pipeline,
		Submitted: func(*worker.Outbound) {
			s.events.emitMessageSubmitted(id)
		},
		Failed: func(job *worker.Outbound, err error, fatal bool) {
			s.log.WithFields(logrus.Fields{
				"client_id": id,
				"kind":      job.Kind,
				"fatal":     fatal,
				"error":     err.Error(),
			}).Warn("Send failed")
			if !job.Control {
				s.events.emitMessageFailed(id, err)
			}
			if fatal {
				s.disconnect(id, err)
			}
		},
	})
	c.touch()
	s.clients.insert(c)

	s.log.WithFields(logrus.Fields{
		"client_id": id,
		"remote":    remote,
		"total":     s.clients.len(),
	}).Info("Client connected")
	s.events.emitClientConnected(id)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.sender.Run()
	}()
	go s.handleRequest(c)
}

// disconnect removes client id and releases its connection. Only the first
// call for an id has any effect.
func (s *Server) disconnect(id int, reason error) {
	c, ok := s.clients.remove(id)
	if !ok {
		return
	}
	close(c.done)
	c.sender.Close()
	c.conn.Close()

	fields := logrus.Fields{"client_id": id, "remote": c.remoteAddr}
	if reason != nil {
		fields["reason"] = reason.Error()
	}
	s.log.WithFields(fields).Info("Client disconnected")
	s.events.emitClientDisconnected(id)
}
