package server

import (
	"errors"
	"fmt"
	"time"

	"go_async_sockets/networking/opcode"
	"go_async_sockets/server/worker"

	"github.com/sirupsen/logrus"
)

// CheckClient sends client id a heartbeat. If the client sends nothing
// within the heartbeat timeout it is disconnected.
func (s *Server) CheckClient(id int) error {
	c, ok := s.clients.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrClientNotFound, id)
	}

	s.mu.Lock()
	if s.state == Stopping || s.state == Stopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	sentAt := time.Now().UnixNano()
	if err := c.sender.Enqueue(worker.ControlJob(opcode.HEARTBEAT)); errors.Is(err, worker.ErrSenderClosed) {
		s.wg.Done()
		return nil
	}

	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.cfg.HeartbeatTimeout)
		defer timer.Stop()

		select {
		case <-timer.C:
			if c.lastActive.Load() < sentAt {
				s.log.WithFields(logrus.Fields{
					"client_id":   id,
					"last_active": c.LastActive(),
				}).Info("Client did not answer heartbeat")
				s.disconnect(id, ErrHeartbeatTimeout)
			}
		case <-c.done:
		}
	}()
	return nil
}

// CheckAllClients checks every connected client. Clients leaving during the
// sweep are skipped.
func (s *Server) CheckAllClients() {
	for _, c := range s.clients.list() {
		if err := s.CheckClient(c.id); err != nil && !errors.Is(err, ErrClientNotFound) {
			s.log.WithField("client_id", c.id).WithError(err).Debug("Health check skipped")
		}
	}
}

// sweep runs CheckAllClients every interval until stop is closed
func (s *Server) sweep(interval time.Duration, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CheckAllClients()
		case <-stop:
			return
		}
	}
}
