package stub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/nornic-labs/boltkit/pkg/bolt"
	"github.com/nornic-labs/boltkit/pkg/metrics"
	"github.com/nornic-labs/boltkit/pkg/packstream"
	"github.com/nornic-labs/boltkit/pkg/script"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/nornic-labs/boltkit/pkg/stub")

// actor drives one accepted connection through its script: the handshake,
// then every expected client message in order, replying with that
// script's canned server lines.
type actor struct {
	script       *script.Script
	conn         net.Conn
	log          *logrus.Entry
	metrics      *metrics.Registry
	port         int
	connectionID string
}

func newActor(sc *script.Script, conn net.Conn, base *logrus.Logger, reg *metrics.Registry, port int) *actor {
	id := uuid.NewString()
	return &actor{
		script:       sc,
		conn:         conn,
		log:          base.WithFields(logrus.Fields{"port": port, "connection_id": id}),
		metrics:      reg,
		port:         port,
		connectionID: id,
	}
}

// play runs the full connection lifecycle and returns the process exit
// code this connection contributes: ExitClean, ExitMismatch or
// ExitInternalError.
func (a *actor) play() (exitCode int) {
	_, span := tracer.Start(context.Background(), "stub.actor.play",
		trace.WithAttributes(attribute.Int("port", a.port), attribute.String("connection_id", a.connectionID)))
	defer span.End()

	defer func() {
		a.log.Debug("<HANGUP>")
		a.conn.Close()
		a.observe(exitCode)
	}()

	a.log.WithField("remote", a.conn.RemoteAddr()).Debug("<ACCEPT>")

	candidates, err := bolt.ReadClientHandshake(a.conn)
	if err != nil {
		a.log.WithError(err).Error("handshake failed")
		span.RecordError(err)
		return ExitInternalError
	}
	a.log.Debug("<HANDSHAKE>")

	reply := a.script.HandshakeReply()
	if _, err := a.conn.Write(reply); err != nil {
		a.log.WithError(err).Error("writing handshake reply failed")
		return ExitInternalError
	}
	// candidates is logged but not re-validated against reply: a script's
	// HANDSHAKE override intentionally may not match what the client
	// proposed, to exercise refusal/mismatch test scenarios.
	a.log.WithField("candidates", candidates).Debug("negotiated handshake")

	table, err := a.script.Table()
	if err != nil {
		a.log.WithError(err).Error("no message table for script version")
		return ExitInternalError
	}

	chunkReader := bolt.NewChunkReader(a.conn)
	chunkWriter := bolt.NewChunkWriter(a.conn)
	player := script.NewPlayer(a.script)

	for {
		raw, err := chunkReader.ReadMessage()
		if err != nil {
			// A client hangup once the script is exhausted is a clean end;
			// otherwise it's an unexpected internal error.
			if errors.Is(err, io.EOF) && player.Done() {
				return ExitClean
			}
			a.log.WithError(err).Error("reading client message failed")
			return ExitInternalError
		}
		if len(raw) == 0 {
			// A bare 00 00 chunk with no preceding data is a legal
			// empty message; it carries no structure to match.
			continue
		}

		msg, _, err := packstream.Unpack(raw, 0)
		if err != nil {
			a.log.WithError(err).Error("unpacking client message failed")
			return ExitInternalError
		}
		structure, ok := msg.(packstream.Structure)
		if !ok {
			a.log.Error("client message was not a Structure")
			return ExitInternalError
		}
		tagName := table.ClientTagName(structure.Tag)
		a.log.WithFields(logrus.Fields{"tag": tagName, "fields": structure.Fields}).Debug("C:")

		responses, auto, err := player.Match(tagName, structure.Fields)
		if err != nil {
			a.log.WithError(err).Error("script mismatch")
			if a.metrics != nil {
				a.metrics.ScriptMismatchesTotal.WithLabelValues(fmt.Sprint(a.port)).Inc()
			}
			return ExitMismatch
		}

		if auto {
			reply, err := a.script.AutoReply(tagName, a.connectionID)
			if err != nil {
				a.log.WithError(err).Error("building auto-reply failed")
				return ExitInternalError
			}
			if err := a.sendStructure(chunkWriter, table, reply); err != nil {
				a.log.WithError(err).Error("sending auto-reply failed")
				return ExitInternalError
			}
			continue
		}

		exited, code := a.runResponses(chunkWriter, table, responses)
		if exited {
			return code
		}
		if player.Done() {
			return ExitClean
		}
	}
}

// runResponses executes the server Lines queued after a successful match:
// sending messages, writing raw bytes, sleeping, or exiting the
// connection. It returns (true, code) if an <EXIT> line ended the
// connection early.
func (a *actor) runResponses(w *bolt.ChunkWriter, table *bolt.MessageTable, lines []script.Line) (bool, int) {
	for _, line := range lines {
		switch l := line.(type) {
		case script.ServerMessageLine:
			tag, err := table.ServerTag(l.TagName)
			if err != nil {
				a.log.WithError(err).Error("unknown server message in script")
				return true, ExitInternalError
			}
			a.log.WithFields(logrus.Fields{"tag": l.TagName, "fields": l.Fields}).Debug("S:")
			if err := a.sendStructure(w, table, packstream.Structure{Tag: tag, Fields: l.Fields}); err != nil {
				a.log.WithError(err).Error("sending scripted message failed")
				return true, ExitInternalError
			}
		case script.ServerRawBytesLine:
			a.log.Debug("S: <RAW>")
			if _, err := a.conn.Write(l.Data); err != nil {
				a.log.WithError(err).Error("writing raw bytes failed")
				return true, ExitInternalError
			}
		case script.ServerSleepLine:
			a.log.WithField("seconds", l.Seconds).Debug("S: <SLEEP>")
			time.Sleep(time.Duration(l.Seconds * float64(time.Second)))
		case script.ServerExitLine:
			a.log.Debug("S: <EXIT>")
			return true, ExitClean
		}
	}
	return false, ExitClean
}

func (a *actor) sendStructure(w *bolt.ChunkWriter, table *bolt.MessageTable, s packstream.Structure) error {
	data, err := packstream.Pack(s)
	if err != nil {
		return fmt.Errorf("stub: packing %s: %w", table.ServerTagName(s.Tag), err)
	}
	return w.WriteMessage(data)
}

func (a *actor) observe(exitCode int) {
	if a.metrics == nil {
		return
	}
	outcome := "clean"
	switch exitCode {
	case ExitMismatch:
		outcome = "mismatch"
	case ExitInternalError:
		outcome = "error"
	}
	a.metrics.ConnectionsTotal.WithLabelValues(fmt.Sprint(a.port), outcome).Inc()
}
