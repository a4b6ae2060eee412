package bolt

import (
	"fmt"
	"io"
)

// ReadClientHandshake reads the fixed 20-byte client preamble: the four
// magic bytes followed by four candidate versions, each four bytes,
// most-significant byte first. It returns ErrHandshakeMagicWrong without
// consuming the version bytes' meaning if the magic doesn't match.
func ReadClientHandshake(r io.Reader) (candidates [4]Version, err error) {
	var magic [4]byte
	if _, err = io.ReadFull(r, magic[:]); err != nil {
		return candidates, fmt.Errorf("bolt: reading handshake magic: %w", err)
	}
	if magic != Magic {
		return candidates, fmt.Errorf("%w: got %x", ErrHandshakeMagicWrong, magic)
	}
	var raw [16]byte
	if _, err = io.ReadFull(r, raw[:]); err != nil {
		return candidates, fmt.Errorf("bolt: reading handshake versions: %w", err)
	}
	for i := 0; i < 4; i++ {
		var b [4]byte
		copy(b[:], raw[i*4:i*4+4])
		candidates[i] = versionFromBytes(b)
	}
	return candidates, nil
}

// SelectVersion intersects the client's candidates with the server's
// supported versions in the server's preference order, returning the first
// match. The bool is false if no candidate is supported.
func SelectVersion(candidates [4]Version, supported []Version) (Version, bool) {
	for _, want := range supported {
		for _, c := range candidates {
			if c == want {
				return want, true
			}
		}
	}
	return Version{}, false
}

// WriteHandshakeReply writes the chosen version as four big-endian bytes.
// An all-zero Version writes the refusal reply.
func WriteHandshakeReply(w io.Writer, v Version) error {
	reply := v.Bytes()
	_, err := w.Write(reply[:])
	return err
}

// RefusalReply is the four zero bytes sent when no proposed version is
// supported.
var RefusalReply = [4]byte{0x00, 0x00, 0x00, 0x00}
