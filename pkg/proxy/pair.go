// Package proxy implements a transparent Bolt proxy: it forwards the raw
// handshake and every subsequent chunked message unchanged between a
// client and an upstream server, decoding and logging each message's
// symbolic name and fields as it passes through.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/nornic-labs/boltkit/pkg/bolt"
	"github.com/nornic-labs/boltkit/pkg/metrics"
	"github.com/nornic-labs/boltkit/pkg/packstream"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/nornic-labs/boltkit/pkg/proxy")

// Pair relays one accepted client connection to its dialed upstream
// server connection, logging every message it forwards.
type Pair struct {
	client  net.Conn
	server  net.Conn
	log     *logrus.Entry
	metrics *metrics.Registry
	table   *bolt.MessageTable
}

// NewPair forwards the 20-byte client handshake to server and the 4-byte
// reply back to client, negotiating the message table both sides will
// use to decode subsequent exchanges.
func NewPair(client, server net.Conn, log *logrus.Entry, reg *metrics.Registry) (*Pair, error) {
	log.WithFields(logrus.Fields{
		"client": client.RemoteAddr(), "server": server.RemoteAddr(),
	}).Debug("<CONNECT>")

	magic, err := forwardBytes(client, server, 4)
	if err != nil {
		return nil, fmt.Errorf("proxy: forwarding handshake magic: %w", err)
	}
	log.WithField("magic", magic).Debug("C: <BOLT>")

	candidates, err := forwardBytes(client, server, 16)
	if err != nil {
		return nil, fmt.Errorf("proxy: forwarding handshake candidates: %w", err)
	}
	log.WithField("candidates", candidates).Debug("C: <VERSION>")

	reply, err := forwardBytes(server, client, 4)
	if err != nil {
		return nil, fmt.Errorf("proxy: forwarding handshake reply: %w", err)
	}
	var replyBytes [4]byte
	copy(replyBytes[:], reply)
	version := bolt.VersionFromBytes(replyBytes)
	log.WithField("version", version).Debug("S: <VERSION>")

	table, err := bolt.TableFor(version)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}

	return &Pair{
		client:  client,
		server:  server,
		log:     log.WithField("bolt_version", version.String()),
		metrics: reg,
		table:   table,
	}, nil
}

// Run forwards exchanges until the client or server connection closes or
// ctx is cancelled.
func (p *Pair) Run(ctx context.Context) {
	defer p.log.Debug("<CLOSE>")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := p.forwardExchange(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrExchangeClosed) {
				p.log.WithError(err).Error("exchange failed")
			}
			return
		}
	}
}

// forwardExchange relays one client request message, then every server
// response message that follows it, stopping after a response whose tag
// is not RECORD (0x71) — the "more responses expected" signal.
func (p *Pair) forwardExchange() error {
	_, span := tracer.Start(context.Background(), "proxy.pair.forwardExchange")
	defer span.End()

	rq, err := p.forwardMessage(p.client, p.server, "C")
	if err != nil {
		return err
	}
	if rq != nil {
		p.countMessage("client_to_server", len(rq))
	}

	more := true
	for more {
		rs, err := p.forwardMessage(p.server, p.client, "S")
		if err != nil {
			return err
		}
		p.countMessage("server_to_client", len(rs))

		structure, _, err := packstream.Unpack(rs, 0)
		if err != nil {
			return fmt.Errorf("proxy: decoding server response: %w", err)
		}
		s, ok := structure.(packstream.Structure)
		more = ok && s.Tag == bolt.TagRecord
	}
	return nil
}

// forwardMessage relays one chunked message (all its chunks plus the
// zero-length terminator) from source to target, logging its decoded
// symbolic name, and returns the reassembled payload.
func (p *Pair) forwardMessage(source, target net.Conn, role string) ([]byte, error) {
	reader := bolt.NewChunkReader(source)
	writer := bolt.NewChunkWriter(target)

	raw, err := readAndMirror(reader, writer)
	if err != nil {
		return nil, err
	}

	value, _, err := packstream.Unpack(raw, 0)
	if err != nil {
		p.log.WithError(err).Warn("could not decode forwarded message")
		return raw, nil
	}
	structure, ok := value.(packstream.Structure)
	if !ok {
		return raw, nil
	}

	var name string
	if role == "C" {
		name = p.table.ClientTagName(structure.Tag)
	} else {
		name = p.table.ServerTagName(structure.Tag)
	}
	p.log.WithFields(logrus.Fields{"tag": name, "fields": structure.Fields}).Debugf("%s:", role)
	return raw, nil
}

// readAndMirror reads one whole framed message from reader, then writes
// its payload to writer with WriteMessage. The payload bytes are relayed
// unchanged, but nothing is written until the full message has arrived, and
// the outgoing chunk boundaries are those WriteMessage produces (chunks of
// up to 65535 bytes), not necessarily the sender's.
func readAndMirror(reader *bolt.ChunkReader, writer *bolt.ChunkWriter) ([]byte, error) {
	raw, err := reader.ReadMessage()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrExchangeClosed
		}
		return nil, err
	}
	if err := writer.WriteMessage(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (p *Pair) countMessage(direction string, n int) {
	if p.metrics == nil {
		return
	}
	p.metrics.MessagesForwardedTotal.WithLabelValues(direction).Inc()
	p.metrics.BytesForwardedTotal.WithLabelValues(direction).Add(float64(n))
}

// forwardBytes reads exactly size bytes from source and writes them
// unchanged to target, returning the bytes read.
func forwardBytes(source, target net.Conn, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(source, buf); err != nil {
		return nil, err
	}
	if _, err := target.Write(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
