package stub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nornic-labs/boltkit/pkg/bolt"
	"github.com/nornic-labs/boltkit/pkg/packstream"
	"github.com/nornic-labs/boltkit/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resetScript = `
!: BOLT 1.0
!: AUTO RESET

C: INIT "test/1.0" {}
S: SUCCESS {}
C: RUN "RETURN 1" {}
S: SUCCESS {"fields": ["1"]}
   RECORD [1]
   SUCCESS {}
C: DISCARD_ALL
S: <EXIT>
`

func dialAndHandshake(t *testing.T, addr string, v bolt.Version) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	var preamble []byte
	preamble = append(preamble, bolt.Magic[:]...)
	candidates := [4]bolt.Version{v, {0, 0}, {0, 0}, {0, 0}}
	for _, c := range candidates {
		b := c.Bytes()
		preamble = append(preamble, b[:]...)
	}
	_, err = conn.Write(preamble)
	require.NoError(t, err)

	var reply [4]byte
	_, err = conn.Read(reply[:])
	require.NoError(t, err)
	assert.Equal(t, v.Bytes(), reply)
	return conn
}

func sendMessage(t *testing.T, conn net.Conn, s packstream.Structure) {
	t.Helper()
	data, err := packstream.Pack(s)
	require.NoError(t, err)
	w := bolt.NewChunkWriter(conn)
	require.NoError(t, w.WriteMessage(data))
}

func recvMessage(t *testing.T, conn net.Conn) packstream.Structure {
	t.Helper()
	r := bolt.NewChunkReader(conn)
	raw, err := r.ReadMessage()
	require.NoError(t, err)
	v, _, err := packstream.Unpack(raw, 0)
	require.NoError(t, err)
	s, ok := v.(packstream.Structure)
	require.True(t, ok)
	return s
}

func TestServicePlaysScriptToCompletion(t *testing.T) {
	RunScripts(t, []string{resetScript}, func(svc *Service) {
		addr := svc.Addresses()[0]
		conn := dialAndHandshake(t, addr, bolt.Version{Major: 1, Minor: 0})
		defer conn.Close()

		table, err := bolt.TableFor(bolt.Version{Major: 1, Minor: 0})
		require.NoError(t, err)

		initTag, _ := table.ClientTag("INIT")
		sendMessage(t, conn, packstream.Structure{Tag: initTag, Fields: []any{"test/1.0", packstream.Dict{}}})
		reply := recvMessage(t, conn)
		assert.Equal(t, "SUCCESS", table.ServerTagName(reply.Tag))

		runTag, _ := table.ClientTag("RUN")
		sendMessage(t, conn, packstream.Structure{Tag: runTag, Fields: []any{"RETURN 1", packstream.Dict{}}})
		for i := 0; i < 3; i++ {
			recvMessage(t, conn)
		}

		discardTag, _ := table.ClientTag("DISCARD_ALL")
		sendMessage(t, conn, packstream.Structure{Tag: discardTag, Fields: nil})
	})
}

// TestServiceReportsMismatch sends RESET where the script expects RUN, and
// checks the service's recorded exit code rather than asserting a clean
// run, so it drives Run directly instead of RunScripts (which fails the
// test on any non-zero exit code).
func TestServiceReportsMismatch(t *testing.T) {
	sc, err := script.Parse(`
!: BOLT 1.0
C: INIT "test/1.0" {}
S: SUCCESS {}
C: RUN "RETURN 1" {}
S: SUCCESS {}
`)
	require.NoError(t, err)

	svc, err := NewService([]*script.Script{sc}, 0, WithTimeout(2*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	addr := svc.Addresses()[0]
	conn := dialAndHandshake(t, addr, bolt.Version{Major: 1, Minor: 0})
	defer conn.Close()

	table, err := bolt.TableFor(bolt.Version{Major: 1, Minor: 0})
	require.NoError(t, err)

	initTag, _ := table.ClientTag("INIT")
	sendMessage(t, conn, packstream.Structure{Tag: initTag, Fields: []any{"test/1.0", packstream.Dict{}}})
	recvMessage(t, conn)

	resetTag, _ := table.ClientTag("RESET")
	sendMessage(t, conn, packstream.Structure{Tag: resetTag, Fields: nil})

	cancel()
	<-done
	assert.Equal(t, ExitMismatch, svc.ExitCode())
}
