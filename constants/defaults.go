package constants

import "time"

const (
	Title = "Asynchronous socket server engine"

	DEFAULT_PORT              = 6969             // Nice
	DEFAULT_CONNECTION_LIMIT  = 500              // Concurrent clients before new connections are refused
	DEFAULT_BUFFER_SIZE       = 8192             // Bytes requested per socket read
	DEFAULT_FILE_CHUNK_SIZE   = 256              // 256K file chunks
	MAX_PAYLOAD_SIZE          = 16 * 1024 * 1024 // Largest payload a peer may declare
	MAX_DECOMPRESSED_SIZE     = 16 * 1024 * 1024 // Largest block the LZ4 handler will inflate
	DEFAULT_SEND_QUEUE        = 64               // Queued outbound jobs per client before sends are refused
	DEFAULT_WRITE_BUFFER      = 8888             // Outbound frames are coalesced up to this size
	DEFAULT_DSCP              = 0x0A             // QoS for high throughput
	DEFAULT_HEARTBEAT_TIMEOUT = 5 * time.Second  // Time a client has to answer a heartbeat
	DEFAULT_WRITE_TIMEOUT     = 10 * time.Second // Deadline for flushing one outbound job
)
