package bolt

import "fmt"

// Version identifies a supported Bolt protocol version by major.minor.
type Version struct {
	Major byte
	Minor byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Bytes encodes the version the way it appears in a handshake proposal or
// reply: four big-endian bytes, most significant first, with the two
// leading bytes reserved for future range negotiation (always zero here).
func (v Version) Bytes() [4]byte {
	return [4]byte{0, 0, v.Minor, v.Major}
}

func versionFromBytes(b [4]byte) Version {
	return Version{Major: b[3], Minor: b[2]}
}

// VersionFromBytes decodes a four-byte handshake version the same way the
// client's candidate proposals and the server's reply are encoded: two
// reserved leading bytes, then minor, then major.
func VersionFromBytes(b [4]byte) Version {
	return versionFromBytes(b)
}

// Client message tags, shared by name across versions where the tag is
// reused (HELLO/INIT share 0x01, RUN shares 0x10, and so on).
const (
	TagInitOrHello byte = 0x01
	TagGoodbye     byte = 0x02
	TagAckFailure  byte = 0x0E
	TagReset       byte = 0x0F
	TagRun         byte = 0x10
	TagBegin       byte = 0x11
	TagCommit      byte = 0x12
	TagRollback    byte = 0x13
	TagDiscard     byte = 0x2F
	TagPull        byte = 0x3F
)

// Server message tags.
const (
	TagSuccess byte = 0x70
	TagRecord  byte = 0x71
	TagIgnored byte = 0x7E
	TagFailure byte = 0x7F
)

// MessageTable holds the two name<->tag mappings for one protocol version.
type MessageTable struct {
	version       Version
	clientTagName map[byte]string
	clientNameTag map[string]byte
	serverTagName map[byte]string
	serverNameTag map[string]byte
	serverAgent   string
}

func newMessageTable(version Version, serverAgent string, client, server map[byte]string) *MessageTable {
	t := &MessageTable{
		version:       version,
		clientTagName: client,
		clientNameTag: make(map[string]byte, len(client)),
		serverTagName: server,
		serverNameTag: make(map[string]byte, len(server)),
		serverAgent:   serverAgent,
	}
	for tag, name := range client {
		t.clientNameTag[name] = tag
	}
	for tag, name := range server {
		t.serverNameTag[name] = tag
	}
	return t
}

// ClientTagName returns the symbolic name for a client-sent tag, or an
// UnknownMessage-shaped placeholder if the tag isn't in this version's
// table.
func (t *MessageTable) ClientTagName(tag byte) string {
	if name, ok := t.clientTagName[tag]; ok {
		return name
	}
	return fmt.Sprintf("<Structure[0x%02X]>", tag)
}

// ServerTagName mirrors ClientTagName for server-sent tags.
func (t *MessageTable) ServerTagName(tag byte) string {
	if name, ok := t.serverTagName[tag]; ok {
		return name
	}
	return fmt.Sprintf("<Structure[0x%02X]>", tag)
}

// ClientTag looks up the tag for a client message name, failing with
// ErrUnknownMessage if the name isn't defined for this version.
func (t *MessageTable) ClientTag(name string) (byte, error) {
	tag, ok := t.clientNameTag[name]
	if !ok {
		return 0, fmt.Errorf("%w: client message %q not available in Bolt %s", ErrUnknownMessage, name, t.version)
	}
	return tag, nil
}

// ServerTag mirrors ClientTag for server message names.
func (t *MessageTable) ServerTag(name string) (byte, error) {
	tag, ok := t.serverNameTag[name]
	if !ok {
		return 0, fmt.Errorf("%w: server message %q not available in Bolt %s", ErrUnknownMessage, name, t.version)
	}
	return tag, nil
}

var serverMessages = map[byte]string{
	TagSuccess: "SUCCESS",
	TagRecord:  "RECORD",
	TagIgnored: "IGNORED",
	TagFailure: "FAILURE",
}

// MessageTables is indexed by (major, minor) and holds every version this
// toolkit understands. Bolt 1 and 2 share ACK_FAILURE/DISCARD_ALL/PULL_ALL
// and the INIT name; Bolt 3 and 4 share HELLO/GOODBYE/BEGIN/COMMIT/ROLLBACK
// and DISCARD/PULL. The two families' names are never mixed in one table.
var MessageTables = map[Version]*MessageTable{
	{1, 0}: newMessageTable(Version{1, 0}, "BoltKit/1.0", map[byte]string{
		TagInitOrHello: "INIT",
		TagAckFailure:  "ACK_FAILURE",
		TagReset:       "RESET",
		TagRun:         "RUN",
		TagDiscard:     "DISCARD_ALL",
		TagPull:        "PULL_ALL",
	}, serverMessages),
	{2, 0}: newMessageTable(Version{2, 0}, "BoltKit/2.0", map[byte]string{
		TagInitOrHello: "INIT",
		TagAckFailure:  "ACK_FAILURE",
		TagReset:       "RESET",
		TagRun:         "RUN",
		TagDiscard:     "DISCARD_ALL",
		TagPull:        "PULL_ALL",
	}, serverMessages),
	{3, 0}: newMessageTable(Version{3, 0}, "BoltKit/3.0", map[byte]string{
		TagInitOrHello: "HELLO",
		TagGoodbye:     "GOODBYE",
		TagReset:       "RESET",
		TagRun:         "RUN",
		TagBegin:       "BEGIN",
		TagCommit:      "COMMIT",
		TagRollback:    "ROLLBACK",
		TagDiscard:     "DISCARD",
		TagPull:        "PULL",
	}, serverMessages),
	{4, 0}: newMessageTable(Version{4, 0}, "BoltKit/4.0", map[byte]string{
		TagInitOrHello: "HELLO",
		TagGoodbye:     "GOODBYE",
		TagReset:       "RESET",
		TagRun:         "RUN",
		TagBegin:       "BEGIN",
		TagCommit:      "COMMIT",
		TagRollback:    "ROLLBACK",
		TagDiscard:     "DISCARD",
		TagPull:        "PULL",
	}, serverMessages),
}

// TableFor returns the message table for a negotiated version, or an
// error wrapping ErrNoCommonVersion if the version isn't supported.
func TableFor(v Version) (*MessageTable, error) {
	t, ok := MessageTables[Version{v.Major, 0}]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported Bolt version %s", ErrNoCommonVersion, v)
	}
	return t, nil
}

// SupportedVersions lists every version this toolkit can negotiate, highest
// preference first.
func SupportedVersions() []Version {
	return []Version{{4, 0}, {3, 0}, {2, 0}, {1, 0}}
}

// ServerAgent returns the stable, per-version "server" string used in
// auto-match SUCCESS replies. Per spec §9 this value is cosmetic; callers
// must not assert its exact contents.
func (t *MessageTable) ServerAgent() string {
	return t.serverAgent
}
