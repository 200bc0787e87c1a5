package worker

import (
	"go_async_sockets/fileio"
	"go_async_sockets/networking"
	"go_async_sockets/networking/opcode"
)

// Outbound is one queued send. Write is called on the sender goroutine with
// the pipeline in effect at that moment and emits serialized frames to out.
type Outbound struct {
	Kind    string
	Control bool
	Write   func(pipeline networking.Pipeline, out func(frame []byte) error) error
}

// TextJob sends one text message
func TextJob(header, text string) *Outbound {
	return &Outbound{
		Kind: opcode.Name(opcode.TEXT),
		Write: func(p networking.Pipeline, out func([]byte) error) error {
			raw, err := (&networking.TextMessage{Header: header, Text: text}).Bytes()
			if err != nil {
				return err
			}
			frame, err := p.EncodePacket(opcode.TEXT, raw)
			if err != nil {
				return err
			}
			return out(frame)
		},
	}
}

// FileJob streams the file at path in chunks of chunkSize bytes
func FileJob(storage fileio.Storage, path string, chunkSize int) *Outbound {
	return &Outbound{
		Kind: "file",
		Write: func(p networking.Pipeline, out func([]byte) error) error {
			return networking.StreamFile(storage, path, chunkSize, p, out)
		},
	}
}

// FolderJob archives folder dir and streams the archive
func FolderJob(storage fileio.Storage, dir string, chunkSize int) *Outbound {
	return &Outbound{
		Kind: "folder",
		Write: func(p networking.Pipeline, out func([]byte) error) error {
			return networking.StreamFolder(storage, dir, chunkSize, p, out)
		},
	}
}

// ControlJob sends a heartbeat or heartbeat ack
func ControlJob(op uint8) *Outbound {
	return &Outbound{
		Kind:    opcode.Name(op),
		Control: true,
		Write: func(_ networking.Pipeline, out func([]byte) error) error {
			return out(networking.ControlPacket(op))
		},
	}
}
