package worker

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go_async_sockets/fileio"
	"go_async_sockets/networking"
	"go_async_sockets/networking/opcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readFrames decodes frames arriving on conn until it is closed
func readFrames(conn net.Conn) <-chan *networking.Packet {
	packets := make(chan *networking.Packet, 64)
	go func() {
		defer close(packets)
		var buffer []byte
		chunk := make([]byte, 512)
		for {
			n, err := conn.Read(chunk)
			if err != nil {
				return
			}
			buffer = append(buffer, chunk[:n]...)
			for {
				packet, rest, err := networking.TryExtractFrame(buffer, 1<<20)
				if err != nil {
					break
				}
				buffer = rest
				packets <- packet
			}
		}
	}()
	return packets
}

func nextPacket(t *testing.T, packets <-chan *networking.Packet) *networking.Packet {
	t.Helper()
	select {
	case p, ok := <-packets:
		require.True(t, ok, "connection closed")
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

type failure struct {
	job   *Outbound
	err   error
	fatal bool
}

type recorder struct {
	mu        sync.Mutex
	submitted []*Outbound
	failed    []failure
}

func (r *recorder) options() Options {
	return Options{
		QueueLength:  4,
		WriteTimeout: time.Second,
		Submitted: func(job *Outbound) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.submitted = append(r.submitted, job)
		},
		Failed: func(job *Outbound, err error, fatal bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failed = append(r.failed, failure{job, err, fatal})
		},
	}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submitted), len(r.failed)
}

func TestSenderWritesInQueueOrder(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	rec := &recorder{}
	s := NewSender(server, rec.options())
	go s.Run()
	defer s.Close()

	packets := readFrames(client)

	require.NoError(t, s.Enqueue(TextJob("h", "first")))
	require.NoError(t, s.Enqueue(ControlJob(opcode.HEARTBEAT)))
	require.NoError(t, s.Enqueue(TextJob("h", "second")))

	p := nextPacket(t, packets)
	require.Equal(t, uint8(opcode.TEXT), p.Opcode)
	msg, err := networking.DecodeTextMessage(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, "first", msg.Text)

	p = nextPacket(t, packets)
	assert.Equal(t, uint8(opcode.HEARTBEAT), p.Opcode)
	assert.Empty(t, p.Payload)

	p = nextPacket(t, packets)
	msg, err = networking.DecodeTextMessage(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, "second", msg.Text)

	// Control frames are not reported as submitted messages.
	assert.Eventually(t, func() bool {
		submitted, _ := rec.counts()
		return submitted == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSenderQueueFull(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	rec := &recorder{}
	opts := rec.options()
	opts.QueueLength = 2
	s := NewSender(server, opts)

	require.NoError(t, s.Enqueue(TextJob("", "1")))
	require.NoError(t, s.Enqueue(TextJob("", "2")))
	assert.ErrorIs(t, s.Enqueue(TextJob("", "3")), ErrQueueFull)
}

func TestSenderClosedReportsQueuedJobs(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	rec := &recorder{}
	s := NewSender(server, rec.options())

	require.NoError(t, s.Enqueue(TextJob("", "1")))
	require.NoError(t, s.Enqueue(ControlJob(opcode.HEARTBEATACK)))
	require.NoError(t, s.Enqueue(TextJob("", "2")))

	s.Close()
	s.Close()
	s.drain()

	assert.ErrorIs(t, s.Enqueue(TextJob("", "late")), ErrSenderClosed)

	submitted, failed := rec.counts()
	assert.Zero(t, submitted)
	require.Equal(t, 2, failed)
	for _, f := range rec.failed {
		assert.ErrorIs(t, f.err, ErrSenderClosed)
		assert.False(t, f.fatal)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSenderJobErrorBeforeOutputIsNotFatal(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	rec := &recorder{}
	s := NewSender(server, rec.options())
	go s.Run()
	defer s.Close()

	packets := readFrames(client)

	broken := &Outbound{
		Kind: "broken",
		Write: func(networking.Pipeline, func([]byte) error) error {
			return errors.New("nothing to send")
		},
	}
	require.NoError(t, s.Enqueue(broken))
	require.NoError(t, s.Enqueue(TextJob("", "after")))

	p := nextPacket(t, packets)
	msg, err := networking.DecodeTextMessage(p.Payload)
	require.NoError(t, err)
	assert.Equal(t, "after", msg.Text)

	rec.mu.Lock()
	require.Len(t, rec.failed, 1)
	assert.Same(t, broken, rec.failed[0].job)
	assert.False(t, rec.failed[0].fatal)
	rec.mu.Unlock()
}

func TestSenderTransportFailureIsFatal(t *testing.T) {
	server, client := net.Pipe()
	client.Close()

	rec := &recorder{}
	s := NewSender(server, rec.options())
	go s.Run()

	require.NoError(t, s.Enqueue(TextJob("", "lost")))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop after write failure")
	}

	assert.Eventually(t, func() bool {
		_, failed := rec.counts()
		return failed == 1
	}, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var terr *TransportError
	assert.ErrorAs(t, rec.failed[0].err, &terr)
	assert.True(t, rec.failed[0].fatal)
}

func TestSenderUsesCurrentPipeline(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	key, err := networking.NewCrypto([]byte("0123456789abcdef"))
	require.NoError(t, err)

	var mu sync.Mutex
	pipeline := networking.Pipeline{}

	rec := &recorder{}
	opts := rec.options()
	opts.Pipeline = func() networking.Pipeline {
		mu.Lock()
		defer mu.Unlock()
		return pipeline
	}
	s := NewSender(server, opts)
	go s.Run()
	defer s.Close()

	packets := readFrames(client)

	require.NoError(t, s.Enqueue(TextJob("", "plain")))
	p := nextPacket(t, packets)
	assert.False(t, p.Encrypted())

	mu.Lock()
	pipeline = networking.Pipeline{Encrypter: key}
	mu.Unlock()

	require.NoError(t, s.Enqueue(TextJob("", "sealed")))
	p = nextPacket(t, packets)
	require.True(t, p.Encrypted())

	raw, err := networking.Pipeline{Encrypter: key}.Decode(p.Payload, p.Flags)
	require.NoError(t, err)
	msg, err := networking.DecodeTextMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "sealed", msg.Text)
}

func TestSenderLongFileWithSteadyReader(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	src := filepath.Join(t.TempDir(), "long.bin")
	contents := bytes.Repeat([]byte("0123456789abcdef"), 40*64)
	require.NoError(t, os.WriteFile(src, contents, 0o644))

	rec := &recorder{}
	opts := rec.options()
	opts.WriteTimeout = 200 * time.Millisecond
	s := NewSender(server, opts)
	go s.Run()
	defer s.Close()

	// Reads 1 KB every 10ms, so the whole file takes well over WriteTimeout.
	var read atomic.Int64
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := client.Read(buf)
			read.Add(int64(n))
			if err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	require.NoError(t, s.Enqueue(FileJob(fileio.NewBufferedStorage(0), src, 1024)))

	assert.Eventually(t, func() bool {
		submitted, failed := rec.counts()
		return submitted == 1 || failed > 0
	}, 10*time.Second, 10*time.Millisecond)

	submitted, failed := rec.counts()
	assert.Equal(t, 1, submitted)
	assert.Zero(t, failed)
	assert.Greater(t, read.Load(), int64(len(contents)))
}

func TestSenderNoJobLostAroundClose(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	go io.Copy(io.Discard, client)

	rec := &recorder{}
	opts := rec.options()
	opts.QueueLength = 1024
	s := NewSender(server, opts)
	go s.Run()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if s.Enqueue(TextJob("", "x")) == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	s.Close()
	wg.Wait()

	// Every accepted job is either written or reported as failed.
	assert.Eventually(t, func() bool {
		submitted, failed := rec.counts()
		return int64(submitted+failed) == accepted.Load()
	}, 2*time.Second, 10*time.Millisecond)
}
