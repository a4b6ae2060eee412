package bolt

import "errors"

// Error kinds for the framer and connection state machine (spec §7).
var (
	ErrTruncatedFrame      = errors.New("bolt: connection closed mid-frame")
	ErrOversizeChunk       = errors.New("bolt: chunk exceeds 65535 bytes")
	ErrHandshakeMagicWrong = errors.New("bolt: handshake magic mismatch")
	ErrNoCommonVersion     = errors.New("bolt: no common protocol version")
	ErrUnknownMessage      = errors.New("bolt: unknown message")
)

// Magic is the fixed four-byte Bolt handshake preamble.
var Magic = [4]byte{0x60, 0x60, 0xB0, 0x17}
