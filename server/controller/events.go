package server

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher delivers server events to registered handlers. Handlers of one
// event run synchronously on the emitting goroutine in registration order.
// A panicking handler is recovered and reported through ErrorThrown so that
// the remaining handlers and the connection loops are unaffected.
type Dispatcher struct {
	log *logrus.Entry

	mu                   sync.RWMutex
	serverHasStarted     []func(ip string, port int)
	clientConnected      []func(id int)
	clientDisconnected   []func(id int)
	messageReceived      []func(id int, header, text string)
	messageSubmitted     []func(id int)
	messageFailed        []func(id int, reason error)
	fileReceived         []func(id int, path string)
	fileTransferProgress []func(id int, bytesReceived, totalSize uint64)
	errorThrown          []func(description string)
}

func newDispatcher(log *logrus.Entry) *Dispatcher {
	return &Dispatcher{log: log}
}

func (d *Dispatcher) OnServerHasStarted(fn func(ip string, port int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.serverHasStarted = append(d.serverHasStarted, fn)
}

func (d *Dispatcher) OnClientConnected(fn func(id int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientConnected = append(d.clientConnected, fn)
}

func (d *Dispatcher) OnClientDisconnected(fn func(id int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientDisconnected = append(d.clientDisconnected, fn)
}

func (d *Dispatcher) OnMessageReceived(fn func(id int, header, text string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageReceived = append(d.messageReceived, fn)
}

func (d *Dispatcher) OnMessageSubmitted(fn func(id int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageSubmitted = append(d.messageSubmitted, fn)
}

func (d *Dispatcher) OnMessageFailed(fn func(id int, reason error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageFailed = append(d.messageFailed, fn)
}

func (d *Dispatcher) OnFileReceived(fn func(id int, path string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileReceived = append(d.fileReceived, fn)
}

func (d *Dispatcher) OnFileTransferProgress(fn func(id int, bytesReceived, totalSize uint64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileTransferProgress = append(d.fileTransferProgress, fn)
}

func (d *Dispatcher) OnErrorThrown(fn func(description string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorThrown = append(d.errorThrown, fn)
}

// snapshot copies a handler list so handlers may register more handlers
func snapshot[T any](d *Dispatcher, list *[]T) []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]T(nil), (*list)...)
}

// guard runs fn and turns a panic into an ErrorThrown event
func (d *Dispatcher) guard(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"event": event,
				"panic": r,
			}).Error("Event handler panicked")
			d.emitErrorThrown(fmt.Sprintf("%s handler panicked: %v", event, r))
		}
	}()
	fn()
}

func (d *Dispatcher) emitServerHasStarted(ip string, port int) {
	for _, fn := range snapshot(d, &d.serverHasStarted) {
		d.guard("ServerHasStarted", func() { fn(ip, port) })
	}
}

func (d *Dispatcher) emitClientConnected(id int) {
	for _, fn := range snapshot(d, &d.clientConnected) {
		d.guard("ClientConnected", func() { fn(id) })
	}
}

func (d *Dispatcher) emitClientDisconnected(id int) {
	for _, fn := range snapshot(d, &d.clientDisconnected) {
		d.guard("ClientDisconnected", func() { fn(id) })
	}
}

func (d *Dispatcher) emitMessageReceived(id int, header, text string) {
	for _, fn := range snapshot(d, &d.messageReceived) {
		d.guard("MessageReceived", func() { fn(id, header, text) })
	}
}

func (d *Dispatcher) emitMessageSubmitted(id int) {
	for _, fn := range snapshot(d, &d.messageSubmitted) {
		d.guard("MessageSubmitted", func() { fn(id) })
	}
}

func (d *Dispatcher) emitMessageFailed(id int, reason error) {
	for _, fn := range snapshot(d, &d.messageFailed) {
		d.guard("MessageFailed", func() { fn(id, reason) })
	}
}

func (d *Dispatcher) emitFileReceived(id int, path string) {
	for _, fn := range snapshot(d, &d.fileReceived) {
		d.guard("FileReceived", func() { fn(id, path) })
	}
}

func (d *Dispatcher) emitFileTransferProgress(id int, received, total uint64) {
	for _, fn := range snapshot(d, &d.fileTransferProgress) {
		d.guard("FileTransferProgress", func() { fn(id, received, total) })
	}
}

// emitErrorThrown is not guarded through itself; a panicking error handler is only logged.
func (d *Dispatcher) emitErrorThrown(description string) {
	for _, fn := range snapshot(d, &d.errorThrown) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.WithFields(logrus.Fields{
						"event": "ErrorThrown",
						"panic": r,
					}).Error("Event handler panicked")
				}
			}()
			fn(description)
		}()
	}
}
