package worker

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"go_async_sockets/constants"
	"go_async_sockets/networking"
)

var (
	// ErrQueueFull is returned when a client's send queue has no room left.
	ErrQueueFull = errors.New("send queue is full")
	// ErrSenderClosed is returned for sends to a disconnected client.
	ErrSenderClosed = errors.New("sender is closed")
)

// TransportError wraps failures of the underlying connection
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Sender
type Options struct {
	QueueLength  int
	WriteTimeout time.Duration
	// Pipeline is resolved once per job so configuration changes apply to later sends.
	Pipeline func() networking.Pipeline
	// Submitted is called after a non-control job was fully written.
	Submitted func(job *Outbound)
	// Failed is called when a job could not be sent. Fatal means the
	// connection is no longer usable.
	Failed func(job *Outbound, err error, fatal bool)
}

// Sender is the write half of a connection. Jobs are written in the order
// they were queued by a single goroutine.
type Sender struct {
	conn   net.Conn
	writer *bufio.Writer
	queue  chan *Outbound
	opts   Options

	// mu orders Enqueue against Close so that no job is queued after drain.
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSender prepares sender for conn. Run must be called to start writing.
func NewSender(conn net.Conn, opts Options) *Sender {
	if opts.QueueLength <= 0 {
		opts.QueueLength = constants.DEFAULT_SEND_QUEUE
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = constants.DEFAULT_WRITE_TIMEOUT
	}
	if opts.Pipeline == nil {
		opts.Pipeline = func() networking.Pipeline { return networking.Pipeline{} }
	}
	return &Sender{
		conn:   conn,
		writer: bufio.NewWriterSize(conn, constants.DEFAULT_WRITE_BUFFER),
		queue:  make(chan *Outbound, opts.QueueLength),
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// Enqueue queues job without blocking
func (s *Sender) Enqueue(job *Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}
	select {
	case s.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run writes queued jobs until Close is called or the connection fails
func (s *Sender) Run() {
	for {
		select {
		case <-s.done:
			s.drain()
			return
		case job := <-s.queue:
			if fatal := s.process(job); fatal {
				s.Close()
			}
		}
	}
}

// Close stops the sender. Jobs still queued are reported as failed.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// Done is closed once the sender has been closed
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// process writes one job and reports whether the connection became unusable.
// WriteTimeout applies to each frame, not to the whole job.
func (s *Sender) process(job *Outbound) bool {
	defer s.conn.SetWriteDeadline(time.Time{})

	written := false
	out := func(frame []byte) error {
		written = true
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if _, err := s.writer.Write(frame); err != nil {
			return &TransportError{Err: err}
		}
		return nil
	}

	err := job.Write(s.opts.Pipeline(), out)
	if err == nil {
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if ferr := s.writer.Flush(); ferr != nil {
			err = &TransportError{Err: ferr}
		}
	}

	if err != nil {
		var terr *TransportError
		// A job that failed half way leaves the peer's parser mid-sequence.
		fatal := errors.As(err, &terr) || written
		if s.opts.Failed != nil {
			s.opts.Failed(job, err, fatal)
		}
		return fatal
	}

	if !job.Control && s.opts.Submitted != nil {
		s.opts.Submitted(job)
	}
	return false
}

// drain reports jobs that will never be written
func (s *Sender) drain() {
	for {
		select {
		case job := <-s.queue:
			if !job.Control && s.opts.Failed != nil {
				s.opts.Failed(job, ErrSenderClosed, false)
			}
		default:
			return
		}
	}
}
