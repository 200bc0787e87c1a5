package server

import (
	"io"
	"net"
	"testing"
	"time"

	"go_async_sockets/client/comms"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

type textEvent struct {
	id           int
	header, text string
}

type failedEvent struct {
	id  int
	err error
}

type fileEvent struct {
	id   int
	path string
}

type progressEvent struct {
	id              int
	received, total uint64
}

// recorder turns dispatcher callbacks into channels
type recorder struct {
	started      chan int
	connected    chan int
	disconnected chan int
	received     chan textEvent
	submitted    chan int
	failed       chan failedEvent
	files        chan fileEvent
	progress     chan progressEvent
	errors       chan string
}

func newRecorder(d *Dispatcher) *recorder {
	r := &recorder{
		started:      make(chan int, 16),
		connected:    make(chan int, 64),
		disconnected: make(chan int, 64),
		received:     make(chan textEvent, 256),
		submitted:    make(chan int, 256),
		failed:       make(chan failedEvent, 64),
		files:        make(chan fileEvent, 64),
		progress:     make(chan progressEvent, 1024),
		errors:       make(chan string, 64),
	}
	d.OnServerHasStarted(func(_ string, port int) { r.started <- port })
	d.OnClientConnected(func(id int) { r.connected <- id })
	d.OnClientDisconnected(func(id int) { r.disconnected <- id })
	d.OnMessageReceived(func(id int, header, text string) { r.received <- textEvent{id, header, text} })
	d.OnMessageSubmitted(func(id int) { r.submitted <- id })
	d.OnMessageFailed(func(id int, err error) { r.failed <- failedEvent{id, err} })
	d.OnFileReceived(func(id int, path string) { r.files <- fileEvent{id, path} })
	d.OnFileTransferProgress(func(id int, received, total uint64) {
		r.progress <- progressEvent{id, received, total}
	})
	d.OnErrorThrown(func(description string) { r.errors <- description })
	return r
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// newTestServer starts a server on a random loopback port
func newTestServer(t *testing.T, limit int, configure func(*Config)) (*Server, *recorder) {
	t.Helper()
	cfg := Config{
		RootPath: t.TempDir(),
		Logger:   quietLogger(),
	}
	if configure != nil {
		configure(&cfg)
	}
	s := NewServer(cfg)
	rec := newRecorder(s.Events())
	require.NoError(t, s.StartListening("127.0.0.1", 0, limit))
	t.Cleanup(func() { s.Shutdown() })
	return s, rec
}

// connect dials s and waits until the server has registered the client
func connect(t *testing.T, s *Server, rec *recorder, opts comms.Options) (*comms.Client, int) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.RootPath == "" {
		opts.RootPath = t.TempDir()
	}
	c, err := comms.Connect(s.Addr().String(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, recv(t, rec.connected)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timed out waiting for %T event", zero)
		return zero
	}
}

func none[T any](t *testing.T, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %+v", v)
	case <-time.After(wait):
	}
}

func closed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("connection was not closed")
	}
}

// dialRaw opens a plain TCP connection to s
func dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}
