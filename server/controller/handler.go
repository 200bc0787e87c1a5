package server

import (
	"errors"
	"fmt"

	"go_async_sockets/networking"
	"go_async_sockets/networking/opcode"
	"go_async_sockets/server/worker"

	"github.com/sirupsen/logrus"
)

// handleRequest is the read loop of a client. It runs until the peer
// disconnects, the connection is closed or the peer sends a frame that
// cannot be parsed.
func (s *Server) handleRequest(c *ClientState) {
	defer s.wg.Done()
	// The partial file is dropped by the goroutine owning it.
	defer c.files.Abort()
	defer s.disconnect(c.id, nil)

	var buf []byte
	for {
		if size := int(s.bufferSize.Load()); len(buf) != size {
			buf = make([]byte, size)
		}

		read, err := c.conn.Read(buf)
		if read > 0 {
			c.touch()
			c.receiveBuffer = append(c.receiveBuffer, buf[:read]...)

			if ferr := s.processBuffer(c); ferr != nil {
				s.log.WithFields(logrus.Fields{
					"client_id": c.id,
					"error":     ferr.Error(),
				}).Warn("Dropping client after protocol error")
				s.events.emitErrorThrown(fmt.Sprintf("client %d: %v", c.id, ferr))
				s.disconnect(c.id, ferr)
				return
			}
		}
		if err != nil {
			// Connection closed.
			return
		}
	}
}

// processBuffer handles every complete frame in the receive buffer
func (s *Server) processBuffer(c *ClientState) error {
	extracted := false
	for {
		packet, rest, err := networking.TryExtractFrame(c.receiveBuffer, s.cfg.MaxPayload)
		if errors.Is(err, networking.ErrNeedMoreData) {
			break
		}
		if err != nil {
			return err
		}
		c.receiveBuffer = rest
		extracted = true

		if err = s.dispatcher(c, packet); err != nil {
			return err
		}
	}

	// Release consumed frames instead of growing the buffer forever.
	if extracted {
		if len(c.receiveBuffer) == 0 {
			c.receiveBuffer = nil
		} else {
			c.receiveBuffer = append([]byte(nil), c.receiveBuffer...)
		}
	}
	return nil
}

// dispatcher determines what to do with incoming messages. Returned errors
// are fatal to the connection; payloads that fail to decode are reported
// through MessageFailed and skipped.
func (s *Server) dispatcher(c *ClientState, packet *networking.Packet) error {
	switch packet.Opcode {
	case opcode.HEARTBEAT:
		if err := c.sender.Enqueue(worker.ControlJob(opcode.HEARTBEATACK)); err != nil {
			s.log.WithField("client_id", c.id).WithError(err).Debug("Could not answer heartbeat")
		}
		return nil
	case opcode.HEARTBEATACK:
		// Read loop already refreshed last activity.
		return nil
	}

	raw, err := s.pipeline().Decode(packet.Payload, packet.Flags)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"client_id": c.id,
			"type":      opcode.Name(packet.Opcode),
			"error":     err.Error(),
		}).Warn("Could not decode payload")
		s.events.emitMessageFailed(c.id, err)
		return nil
	}

	switch packet.Opcode {
	case opcode.TEXT:
		msg, err := networking.DecodeTextMessage(raw)
		if err != nil {
			return fmt.Errorf("%w: text: %v", networking.ErrMalformed, err)
		}
		s.events.emitMessageReceived(c.id, msg.Header, msg.Text)
	case opcode.FILESTART:
		return s.startFileTransfer(c, raw, false)
	case opcode.FOLDERSTART:
		return s.startFileTransfer(c, raw, true)
	case opcode.FILECHUNK:
		return s.nextFileDataChunk(c, raw)
	case opcode.FILEEND:
		return s.endFileTransfer(c, raw)
	}
	return nil
}

// startFileTransfer handles FileStart and FolderStart
func (s *Server) startFileTransfer(c *ClientState, raw []byte, folder bool) error {
	msg, err := networking.DecodeStartFileTransfer(raw)
	if err != nil {
		return fmt.Errorf("%w: file start: %v", networking.ErrMalformed, err)
	}

	start := c.files.Start
	if folder {
		start = c.files.StartFolder
	}
	completed, err := start(msg)
	if err != nil {
		return fmt.Errorf("file start %q: %w", msg.FileName, err)
	}

	s.log.WithFields(logrus.Fields{
		"client_id": c.id,
		"file_name": msg.FileName,
		"file_size": msg.FileSize,
		"folder":    folder,
	}).Info("Receiving file")

	if completed != "" {
		s.fileCompleted(c, completed)
	}
	return nil
}

// nextFileDataChunk handles FileChunk
func (s *Server) nextFileDataChunk(c *ClientState, raw []byte) error {
	progress, completed, err := c.files.Chunk(raw)
	if err != nil {
		return fmt.Errorf("file chunk: %w", err)
	}

	s.events.emitFileTransferProgress(c.id, progress.BytesReceived, progress.TotalSize)
	if completed != "" {
		s.fileCompleted(c, completed)
	}
	return nil
}

// endFileTransfer handles FileEnd. A digest mismatch is reported but the
// connection stays open.
func (s *Server) endFileTransfer(c *ClientState, raw []byte) error {
	msg, err := networking.DecodeEndFileTransfer(raw)
	if err != nil {
		return fmt.Errorf("%w: file end: %v", networking.ErrMalformed, err)
	}

	path, err := c.files.End(msg)
	if errors.Is(err, networking.ErrDigestMismatch) {
		s.log.WithFields(logrus.Fields{
			"client_id": c.id,
			"path":      path,
		}).Warn("Checksum mismatch!")
		s.events.emitErrorThrown(fmt.Sprintf("client %d: %s: %v", c.id, path, err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("file end: %w", err)
	}
	return nil
}

func (s *Server) fileCompleted(c *ClientState, path string) {
	s.log.WithFields(logrus.Fields{
		"client_id": c.id,
		"path":      path,
	}).Info("File transfer completed")
	s.events.emitFileReceived(c.id, path)
}
