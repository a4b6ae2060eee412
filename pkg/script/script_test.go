package script

import (
	"strings"
	"testing"

	"github.com/nornic-labs/boltkit/pkg/bolt"
	"github.com/nornic-labs/boltkit/pkg/packstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloScript = `
!: BOLT 3.0
!: AUTO RESET

C: HELLO {"user_agent": "test"}
S: SUCCESS {"server": "Neo4j/3.5.0"}
C: RUN "RETURN 1" {}
S: SUCCESS {"fields": ["1"]}
   RECORD [1]
   SUCCESS {"type": "r"}
C: GOODBYE
S: <EXIT>
`

func TestParseBasicScript(t *testing.T) {
	s, err := Parse(helloScript)
	require.NoError(t, err)

	assert.Equal(t, bolt.Version{Major: 3, Minor: 0}, s.Version)
	assert.True(t, s.IsAuto("RESET"))
	assert.False(t, s.IsAuto("RUN"))

	var clientCount, serverCount int
	for _, l := range s.Lines {
		switch l.(type) {
		case ClientMessageLine:
			clientCount++
		case ServerMessageLine, ServerExitLine:
			serverCount++
		}
	}
	assert.Equal(t, 3, clientCount)
	assert.Equal(t, 5, serverCount)
}

func TestParseRoleInheritance(t *testing.T) {
	s, err := Parse(`
!: BOLT 1.0
C: RUN "X" {}
   PULL_ALL
S: SUCCESS {}
   SUCCESS {}
`)
	require.NoError(t, err)
	var names []string
	for _, l := range s.Lines {
		if c, ok := l.(ClientMessageLine); ok {
			names = append(names, c.TagName)
		}
	}
	assert.Equal(t, []string{"RUN", "PULL_ALL"}, names)
}

func TestParseHandshakeDirective(t *testing.T) {
	s, err := Parse(`
!: BOLT 1.0
!: HANDSHAKE 0001
C: RESET
S: SUCCESS {}
`)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01}, s.HandshakeData)
}

func TestParsePortDirective(t *testing.T) {
	s, err := Parse(`
!: BOLT 1.0
!: PORT 17687
C: RESET
S: SUCCESS {}
`)
	require.NoError(t, err)
	assert.Equal(t, 17687, s.Port)
}

func TestParseUnknownRoleFails(t *testing.T) {
	_, err := Parse("X: FOO\n")
	require.Error(t, err)
}

func TestParseIntegerVsFloatFields(t *testing.T) {
	s, err := Parse(`
!: BOLT 1.0
C: RUN 1 1.0
S: SUCCESS {}
`)
	require.NoError(t, err)
	msg := s.Lines[0].(ClientMessageLine)
	assert.IsType(t, int64(0), msg.Fields[0])
	assert.IsType(t, float64(0), msg.Fields[1])
}

func TestPlayerMatchesInOrder(t *testing.T) {
	s, err := Parse(helloScript)
	require.NoError(t, err)
	p := NewPlayer(s)

	responses, auto, err := p.Match("HELLO", []any{packstream.Dict{{Key: "user_agent", Value: "test"}}})
	require.NoError(t, err)
	require.False(t, auto)
	require.Len(t, responses, 1)
	assert.Equal(t, "SUCCESS", responses[0].(ServerMessageLine).TagName)

	responses, auto, err = p.Match("RUN", []any{"RETURN 1", packstream.Dict{}})
	require.NoError(t, err)
	require.False(t, auto)
	require.Len(t, responses, 3)
}

func TestPlayerAutoMatchDoesNotAdvance(t *testing.T) {
	s, err := Parse(helloScript)
	require.NoError(t, err)
	p := NewPlayer(s)

	_, auto, err := p.Match("RESET", nil)
	require.NoError(t, err)
	assert.True(t, auto)
	assert.Equal(t, 0, p.cursor)
}

func TestPlayerMismatchReportsExpected(t *testing.T) {
	s, err := Parse(helloScript)
	require.NoError(t, err)
	p := NewPlayer(s)

	_, _, err = p.Match("GOODBYE", nil)
	require.Error(t, err)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, strings.Contains(mismatch.Expected, "HELLO"))
}

func TestAutoReplyIncludesConnectionIDForBolt3(t *testing.T) {
	s, err := Parse("!: BOLT 3.0\nC: RESET\nS: SUCCESS {}\n")
	require.NoError(t, err)
	reply, err := s.AutoReply("HELLO", "bolt-123")
	require.NoError(t, err)
	dict := reply.Fields[0].(packstream.Dict)
	_, ok := dict.Get("connection_id")
	assert.True(t, ok)
}

func TestAutoReplyOmitsConnectionIDForBolt1(t *testing.T) {
	s, err := Parse("!: BOLT 1.0\nC: RESET\nS: SUCCESS {}\n")
	require.NoError(t, err)
	reply, err := s.AutoReply("INIT", "bolt-123")
	require.NoError(t, err)
	dict := reply.Fields[0].(packstream.Dict)
	_, ok := dict.Get("connection_id")
	assert.False(t, ok)
}
