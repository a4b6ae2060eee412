package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/nornic-labs/boltkit/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultListenAddr is the proxy's default bind address, matching the
// reference implementation's default ":17687".
const DefaultListenAddr = ":17687"

// Server accepts client connections on ListenAddr and relays each one to
// UpstreamAddr via a Pair.
type Server struct {
	ListenAddr   string
	UpstreamAddr string
	Log          *logrus.Logger
	Metrics      *metrics.Registry

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default logrus.Logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) { s.Log = l }
}

// WithMetrics attaches a metrics.Registry; if omitted, metrics are a no-op.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Server) { s.Metrics = r }
}

// NewServer builds a Server relaying connections from listenAddr to
// upstreamAddr. An empty listenAddr uses DefaultListenAddr.
func NewServer(listenAddr, upstreamAddr string, opts ...Option) *Server {
	if listenAddr == "" {
		listenAddr = DefaultListenAddr
	}
	s := &Server{
		ListenAddr:   listenAddr,
		UpstreamAddr: upstreamAddr,
		Log:          logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the bound listener's address; only valid after Run has
// started listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens for client connections and relays each to UpstreamAddr until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("proxy: listening on %s: %w", s.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.Log.WithField("addr", ln.Addr()).Debug("<LISTEN>")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("proxy: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, client net.Conn) {
	defer s.wg.Done()
	defer client.Close()

	upstream, err := net.Dial("tcp", s.UpstreamAddr)
	if err != nil {
		s.Log.WithError(err).Error("dialing upstream failed")
		return
	}
	defer upstream.Close()

	log := s.Log.WithField("client", client.RemoteAddr())
	pair, err := NewPair(client, upstream, log, s.Metrics)
	if err != nil {
		log.WithError(err).Error("handshake relay failed")
		return
	}
	pair.Run(ctx)
}
