package opcode

const (
	TEXT         = iota + 1 // 1: Text message with header
	FILESTART               // 2: Announce file of given size
	FILECHUNK               // 3: Next chunk of file data
	FILEEND                 // 4: EOF with digest
	HEARTBEAT               // 5: Liveness check
	HEARTBEATACK            // 6: Liveness check reply
	FOLDERSTART             // 7: Announce tar archive of a folder
)

// Flag bits of the frame header.
const (
	FLAG_COMPRESSED = 1 << iota
	FLAG_ENCRYPTED

	FLAG_MASK = FLAG_COMPRESSED | FLAG_ENCRYPTED
)

// Valid reports whether op is a known message type.
func Valid(op uint8) bool {
	return op >= TEXT && op <= FOLDERSTART
}

// Name returns printable name of the message type.
func Name(op uint8) string {
	switch op {
	case TEXT:
		return "text"
	case FILESTART:
		return "file-start"
	case FILECHUNK:
		return "file-chunk"
	case FILEEND:
		return "file-end"
	case HEARTBEAT:
		return "heartbeat"
	case HEARTBEATACK:
		return "heartbeat-ack"
	case FOLDERSTART:
		return "folder-start"
	default:
		return "unknown"
	}
}
