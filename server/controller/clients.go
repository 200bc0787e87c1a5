package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go_async_sockets/networking"
	"go_async_sockets/server/worker"
)

// ClientState is the per connection record. The receive buffer is owned by
// the read loop, the send queue by the sender; lastActive and the active
// transfer are published for concurrent health checks and snapshots.
type ClientState struct {
	id          int
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time

	receiveBuffer []byte
	sender        *worker.Sender
	files         *networking.FileReceiver

	lastActive atomic.Int64
	done       chan struct{}
}

// ClientInfo is an immutable copy of a client's state
type ClientInfo struct {
	ID             int
	RemoteAddr     string
	ConnectedAt    time.Time
	LastActive     time.Time
	ActiveTransfer *networking.FileTransferState
}

func (c *ClientState) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns time of the last read or heartbeat reply
func (c *ClientState) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *ClientState) info() ClientInfo {
	info := ClientInfo{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		ConnectedAt: c.connectedAt,
		LastActive:  c.LastActive(),
	}
	if state, ok := c.files.Active(); ok {
		info.ActiveTransfer = &state
	}
	return info
}

// connectionTable maps client ids to live clients
type connectionTable struct {
	mu      sync.RWMutex
	clients map[int]*ClientState
}

func newConnectionTable() *connectionTable {
	return &connectionTable{clients: make(map[int]*ClientState)}
}

func (t *connectionTable) insert(c *ClientState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c.id] = c
}

// remove deletes id and reports whether this call removed it
func (t *connectionTable) remove(id int) (*ClientState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[id]
	if ok {
		delete(t.clients, id)
	}
	return c, ok
}

func (t *connectionTable) get(id int) (*ClientState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[id]
	return c, ok
}

func (t *connectionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// list returns the clients present at call time
func (t *connectionTable) list() []*ClientState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ClientState, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

func (t *connectionTable) snapshot() map[int]ClientInfo {
	clients := t.list()
	out := make(map[int]ClientInfo, len(clients))
	for _, c := range clients {
		out[c.id] = c.info()
	}
	return out
}
