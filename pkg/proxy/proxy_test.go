package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nornic-labs/boltkit/pkg/bolt"
	"github.com/nornic-labs/boltkit/pkg/packstream"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts one connection, performs the server side of a Bolt
// handshake (always choosing Bolt 3.0), then reads one message and answers
// it with a canned SUCCESS.
func fakeServer(t *testing.T) (addr string, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done = make(chan struct{})

	go func() {
		defer close(done)
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var preamble [20]byte
		if _, err := conn.Read(preamble[:]); err != nil {
			return
		}
		v := bolt.Version{Major: 3, Minor: 0}
		reply := v.Bytes()
		if _, err := conn.Write(reply[:]); err != nil {
			return
		}

		table, _ := bolt.TableFor(v)
		r := bolt.NewChunkReader(conn)
		w := bolt.NewChunkWriter(conn)
		raw, err := r.ReadMessage()
		if err != nil {
			return
		}
		value, _, err := packstream.Unpack(raw, 0)
		if err != nil {
			return
		}
		_ = value
		successTag, _ := table.ServerTag("SUCCESS")
		data, _ := packstream.Pack(packstream.Structure{Tag: successTag, Fields: []any{packstream.Dict{}}})
		_ = w.WriteMessage(data)
	}()

	return ln.Addr().String(), done
}

func TestPairForwardsHandshakeAndExchange(t *testing.T) {
	upstreamAddr, upstreamDone := fakeServer(t)

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	log := logrus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go func() {
		conn, err := proxyLn.Accept()
		close(ready)
		if err != nil {
			return
		}
		upstream, err := net.Dial("tcp", upstreamAddr)
		require.NoError(t, err)
		pair, err := NewPair(conn, upstream, log.WithField("test", true), nil)
		require.NoError(t, err)
		pair.Run(ctx)
	}()

	clientConn, err := net.Dial("tcp", proxyLn.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	<-ready

	var preamble []byte
	preamble = append(preamble, bolt.Magic[:]...)
	candidates := [4]bolt.Version{{3, 0}, {0, 0}, {0, 0}, {0, 0}}
	for _, c := range candidates {
		b := c.Bytes()
		preamble = append(preamble, b[:]...)
	}
	_, err = clientConn.Write(preamble)
	require.NoError(t, err)

	var reply [4]byte
	_, err = clientConn.Read(reply[:])
	require.NoError(t, err)
	assert.Equal(t, bolt.Version{Major: 3, Minor: 0}.Bytes(), reply)

	table, _ := bolt.TableFor(bolt.Version{Major: 3, Minor: 0})
	runTag, _ := table.ClientTag("RUN")
	data, err := packstream.Pack(packstream.Structure{Tag: runTag, Fields: []any{"RETURN 1", packstream.Dict{}}})
	require.NoError(t, err)
	w := bolt.NewChunkWriter(clientConn)
	require.NoError(t, w.WriteMessage(data))

	r := bolt.NewChunkReader(clientConn)
	raw, err := r.ReadMessage()
	require.NoError(t, err)
	value, _, err := packstream.Unpack(raw, 0)
	require.NoError(t, err)
	structure := value.(packstream.Structure)
	assert.Equal(t, "SUCCESS", table.ServerTagName(structure.Tag))

	cancel()
	select {
	case <-upstreamDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fake upstream server did not finish")
	}
}

func TestServerRunRelaysThroughAcceptLoop(t *testing.T) {
	upstreamAddr, upstreamDone := fakeServer(t)

	srv := NewServer("127.0.0.1:0", upstreamAddr)
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	var addr net.Addr
	for i := 0; i < 100 && addr == nil; i++ {
		addr = srv.Addr()
		if addr == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.NotNil(t, addr, "proxy server never bound a listener")

	clientConn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	var preamble []byte
	preamble = append(preamble, bolt.Magic[:]...)
	candidates := [4]bolt.Version{{3, 0}, {0, 0}, {0, 0}, {0, 0}}
	for _, c := range candidates {
		b := c.Bytes()
		preamble = append(preamble, b[:]...)
	}
	_, err = clientConn.Write(preamble)
	require.NoError(t, err)

	var reply [4]byte
	_, err = clientConn.Read(reply[:])
	require.NoError(t, err)
	assert.Equal(t, bolt.Version{Major: 3, Minor: 0}.Bytes(), reply)

	clientConn.Close()
	cancel()
	<-runDone
	<-upstreamDone
}
