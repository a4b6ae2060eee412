package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxChunkSize is the largest payload a single chunk can carry; its length
// prefix is a big-endian u16.
const maxChunkSize = 65535

// ChunkWriter splits outgoing message payloads into length-prefixed chunks
// of at most maxChunkSize bytes, followed by a zero-length terminator
// chunk, independent of whatever PackStream structure the payload holds.
type ChunkWriter struct {
	w io.Writer
}

// NewChunkWriter wraps w for chunked framing.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w}
}

// WriteChunk writes a single chunk verbatim. Passing nil or an empty slice
// writes the zero-length terminator chunk.
func (cw *ChunkWriter) WriteChunk(data []byte) error {
	if len(data) > maxChunkSize {
		return ErrOversizeChunk
	}
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(data)))
	if _, err := cw.w.Write(header[:]); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := cw.w.Write(data)
	return err
}

// WriteMessage frames data as one or more data chunks followed by the
// terminating zero-length chunk. An empty payload writes only the
// terminator, which is the legal empty-message encoding.
func (cw *ChunkWriter) WriteMessage(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxChunkSize {
			n = maxChunkSize
		}
		if err := cw.WriteChunk(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return cw.WriteChunk(nil)
}

// ChunkReader reassembles framed messages from an io.Reader, concatenating
// payloads from successive non-empty chunks until a zero-length header
// terminates the message.
type ChunkReader struct {
	r io.Reader
}

// NewChunkReader wraps r for chunked framing.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: r}
}

// ReadMessage reads chunks until the terminator, returning the reassembled
// payload. A zero-length chunk with no preceding data chunks is a legal
// empty message (keep-alive) and returns a nil/empty slice with no error.
// A clean EOF before any bytes of the next message are read returns io.EOF
// unchanged; an EOF encountered mid-message is wrapped as
// ErrTruncatedFrame.
func (cr *ChunkReader) ReadMessage() ([]byte, error) {
	var msg []byte
	for {
		var header [2]byte
		if _, err := io.ReadFull(cr.r, header[:]); err != nil {
			if len(msg) == 0 && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
		}
		size := int(binary.BigEndian.Uint16(header[:]))
		if size == 0 {
			return msg, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(cr.r, chunk); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
		}
		msg = append(msg, chunk...)
	}
}
