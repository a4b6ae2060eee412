// Package stub implements a scriptable Bolt server: one script per listen
// port, each accepted connection matched in order against that script's
// expected client messages, replying with the script's canned server
// messages.
package stub

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nornic-labs/boltkit/pkg/metrics"
	"github.com/nornic-labs/boltkit/pkg/script"
	"github.com/sirupsen/logrus"
)

// DefaultBasePort is the first port assigned to a script with no explicit
// PORT directive, matching the reference stub service's default.
const DefaultBasePort = 17601

// DefaultTimeout is how long a Service waits for all connections to finish
// before giving up and exiting with ExitIdleTimeout.
const DefaultTimeout = 30 * time.Second

// Service owns one listener per script and runs each accepted connection
// through that script exactly once.
type Service struct {
	Host             string
	ExitOnDisconnect bool
	Timeout          time.Duration
	Log              *logrus.Logger
	Metrics          *metrics.Registry

	scripts map[int]*script.Script

	mu        sync.Mutex
	listeners map[int]net.Listener
	running   bool

	exitCode   int
	exitCodeMu sync.Mutex

	wg sync.WaitGroup
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithHost overrides the default "localhost" bind address.
func WithHost(host string) Option {
	return func(s *Service) { s.Host = host }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.Timeout = d }
}

// WithExitOnDisconnect controls whether a script's listener is torn down
// the moment its one connection ends (the reference default) or stays open
// for repeat connections.
func WithExitOnDisconnect(v bool) Option {
	return func(s *Service) { s.ExitOnDisconnect = v }
}

// WithLogger overrides the default logrus.Logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.Log = l }
}

// WithMetrics attaches a metrics.Registry; if omitted, metrics are a no-op.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Service) { s.Metrics = r }
}

// NewService assigns each script a port — its own PORT directive if set,
// otherwise the next port counting up from basePort (whether that port is
// free is not checked) — and returns an unstarted Service.
func NewService(scripts []*script.Script, basePort int, opts ...Option) (*Service, error) {
	if len(scripts) == 0 {
		return nil, ErrNoScripts
	}
	if basePort <= 0 {
		basePort = DefaultBasePort
	}
	s := &Service{
		Host:             "localhost",
		ExitOnDisconnect: true,
		Timeout:          DefaultTimeout,
		Log:              logrus.New(),
		scripts:          make(map[int]*script.Script),
		listeners:        make(map[int]net.Listener),
	}
	for _, opt := range opts {
		opt(s)
	}

	next := basePort
	for _, sc := range scripts {
		port := sc.Port
		if port == 0 {
			port = next
			next++
		}
		s.scripts[port] = sc
	}
	return s, nil
}

// Addresses returns "host:port" for every script this service serves, in
// ascending port order.
func (s *Service) Addresses() []string {
	ports := make([]int, 0, len(s.scripts))
	for p := range s.scripts {
		ports = append(ports, p)
	}
	for i := 1; i < len(ports); i++ {
		for j := i; j > 0 && ports[j-1] > ports[j]; j-- {
			ports[j-1], ports[j] = ports[j], ports[j-1]
		}
	}
	out := make([]string, len(ports))
	for i, p := range ports {
		out[i] = fmt.Sprintf("%s:%d", s.Host, p)
	}
	return out
}

// ExitCode returns the process exit code a caller should use once Run
// returns, reflecting the worst outcome across every connection served.
func (s *Service) ExitCode() int {
	s.exitCodeMu.Lock()
	defer s.exitCodeMu.Unlock()
	return s.exitCode
}

func (s *Service) setExitCode(code int) {
	s.exitCodeMu.Lock()
	defer s.exitCodeMu.Unlock()
	if code > s.exitCode {
		s.exitCode = code
	}
}

// Run starts every script's listener, serves connections until ctx is
// cancelled, Timeout elapses (measured from the start of Run; connection
// activity does not extend it), or (with ExitOnDisconnect) every
// script has been played through once, then closes all listeners and
// returns. With ExitOnDisconnect set (the default), each script's listener
// closes the moment its one connection's script finishes, mirroring the
// reference stub service's _on_disconnect, and once every listener has
// closed this way Run returns immediately instead of waiting out Timeout.
// The returned error is nil unless listening itself failed; use ExitCode
// for the per-connection outcome.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	for port, sc := range s.scripts {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.Host, port))
		if err != nil {
			s.mu.Unlock()
			s.closeListeners()
			return fmt.Errorf("stub: listening on port %d: %w", port, err)
		}
		s.listeners[port] = ln
		s.Log.WithFields(logrus.Fields{"port": port, "script": sc.Filename}).Debug("<LISTEN>")
	}
	entries := make([]struct {
		port int
		ln   net.Listener
	}, 0, len(s.listeners))
	for port, ln := range s.listeners {
		entries = append(entries, struct {
			port int
			ln   net.Listener
		}{port, ln})
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	for _, e := range entries {
		s.wg.Add(1)
		go s.serve(ctx, e.port, e.ln)
	}

	allServed := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(allServed)
	}()

	select {
	case <-allServed:
		// Every listener closed itself after ExitOnDisconnect (or the
		// caller's ctx was cancelled); nothing left to wait out.
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			s.Log.Warnf("timed out after %s", s.Timeout)
			s.setExitCode(ExitIdleTimeout)
		}
	}
	s.closeListeners()
	s.wg.Wait()
	return nil
}

func (s *Service) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for port, ln := range s.listeners {
		ln.Close()
		delete(s.listeners, port)
	}
}

// closeListener closes and forgets a single script's listener, used by
// serve to tear down as soon as ExitOnDisconnect's one connection ends
// rather than waiting for the whole Service to stop.
func (s *Service) closeListener(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ln, ok := s.listeners[port]; ok {
		ln.Close()
		delete(s.listeners, port)
	}
}

func (s *Service) serve(ctx context.Context, port int, ln net.Listener) {
	defer s.wg.Done()
	sc := s.scripts[port]
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if s.ExitOnDisconnect {
					return
				}
				continue
			}
		}
		actor := newActor(sc, conn, s.Log, s.Metrics, port)
		code := actor.play()
		s.setExitCode(code)
		if s.ExitOnDisconnect {
			s.closeListener(port)
			return
		}
	}
}
