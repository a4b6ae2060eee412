// Package script implements the Bolt stub server's scripting language: an
// ordered sequence of expected client messages and canned server
// responses/actions, plus the metadata (protocol version, AUTO set,
// handshake override, listen port) a script carries.
package script

import (
	"fmt"

	"github.com/nornic-labs/boltkit/pkg/bolt"
	"github.com/nornic-labs/boltkit/pkg/packstream"
)

// Line is one directive of a parsed script. Each variant knows its own
// source line number for diagnostics.
type Line interface {
	LineNo() int
	String() string
}

type baseLine struct {
	lineNo int
}

func (b baseLine) LineNo() int { return b.lineNo }

// ClientMessageLine is a `C:` directive: the next client message the script
// expects.
type ClientMessageLine struct {
	baseLine
	TagName string
	Fields  []any
}

func (l ClientMessageLine) String() string {
	return fmt.Sprintf("C: %s %s", l.TagName, formatFields(l.Fields))
}

// ServerMessageLine is an `S:` directive carrying a canned response
// message.
type ServerMessageLine struct {
	baseLine
	TagName string
	Fields  []any
}

func (l ServerMessageLine) String() string {
	return fmt.Sprintf("S: %s %s", l.TagName, formatFields(l.Fields))
}

// ServerRawBytesLine is an `S: <RAW>` directive: bytes written verbatim.
type ServerRawBytesLine struct {
	baseLine
	Data []byte
}

func (l ServerRawBytesLine) String() string {
	return fmt.Sprintf("S: <RAW> % X", l.Data)
}

// ServerSleepLine is an `S: <SLEEP>` directive.
type ServerSleepLine struct {
	baseLine
	Seconds float64
}

func (l ServerSleepLine) String() string {
	return fmt.Sprintf("S: <SLEEP> %v", l.Seconds)
}

// ServerExitLine is an `S: <EXIT>` directive: close the connection.
type ServerExitLine struct {
	baseLine
}

func (l ServerExitLine) String() string {
	return "S: <EXIT>"
}

func formatFields(fields []any) string {
	s := ""
	for i, f := range fields {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%v", f)
	}
	return s
}

// Script is an ordered, immutable sequence of Lines plus the metadata
// needed to run it: protocol version, optional handshake override, listen
// port, and the set of client message names answered automatically.
type Script struct {
	Filename      string
	Lines         []Line
	Version       bolt.Version
	HandshakeData []byte // nil means derive from Version, per on_handshake default.
	Port          int
	Auto          map[string]bool
	table         *bolt.MessageTable
}

// Table returns the message tag table for this script's negotiated
// version.
func (s *Script) Table() (*bolt.MessageTable, error) {
	if s.table != nil {
		return s.table, nil
	}
	t, err := bolt.TableFor(s.Version)
	if err != nil {
		return nil, err
	}
	s.table = t
	return t, nil
}

// HandshakeReply returns the bytes the stub server should reply with during
// the handshake: either the script's explicit override or the negotiated
// version's four-byte encoding.
func (s *Script) HandshakeReply() []byte {
	if s.HandshakeData != nil {
		return s.HandshakeData
	}
	b := s.Version.Bytes()
	return b[:]
}

// IsAuto reports whether a client message name is in the AUTO set: the
// stub answers it with a canned SUCCESS without advancing the script
// cursor.
func (s *Script) IsAuto(name string) bool {
	return s.Auto[name]
}

// AutoReply builds the canned SUCCESS response for an auto-matched client
// message, per the per-version metadata in spec §4.4 and §9. Only INIT/HELLO
// replies carry metadata: a server agent string, plus a connection_id on
// Bolt 3+ (not on Bolt 1/2). Every other auto reply is SUCCESS {}.
func (s *Script) AutoReply(clientTagName string, connectionID string) (packstream.Structure, error) {
	table, err := s.Table()
	if err != nil {
		return packstream.Structure{}, err
	}
	successTag, err := table.ServerTag("SUCCESS")
	if err != nil {
		return packstream.Structure{}, err
	}
	if clientTagName != "HELLO" && clientTagName != "INIT" {
		return packstream.Structure{Tag: successTag, Fields: []any{packstream.Dict{}}}, nil
	}
	entries := packstream.Dict{{Key: "server", Value: table.ServerAgent()}}
	if s.Version.Major >= 3 {
		entries = append(entries, packstream.DictEntry{Key: "connection_id", Value: connectionID})
	}
	return packstream.Structure{Tag: successTag, Fields: []any{entries}}, nil
}
