package stub

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/nornic-labs/boltkit/pkg/script"
	"github.com/sirupsen/logrus"
)

// RunScripts is a testing helper mirroring the reference stub_test
// decorator: it parses the given script sources, starts a Service
// listening on ports counted up from DefaultBasePort, runs fn with the
// running Service, then
// waits for every connection to finish and fails the test if any
// connection's exit code was non-zero.
func RunScripts(t *testing.T, sources []string, fn func(svc *Service)) {
	t.Helper()

	scripts := make([]*script.Script, 0, len(sources))
	for _, src := range sources {
		sc, err := script.Parse(src)
		if err != nil {
			t.Fatalf("stub: parsing test script: %v", err)
		}
		scripts = append(scripts, sc)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if testing.Verbose() {
		logger.SetOutput(newTestWriter(t))
		logger.SetLevel(logrus.DebugLevel)
	}

	svc, err := NewService(scripts, freeTestPort(), WithLogger(logger), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("stub: constructing service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Run(ctx); err != nil {
			t.Errorf("stub: service run: %v", err)
		}
	}()

	// Give the listeners a moment to bind before handing control to fn.
	time.Sleep(20 * time.Millisecond)
	fn(svc)

	cancel()
	<-done

	if code := svc.ExitCode(); code != ExitClean {
		t.Fatalf("stub: test script exited with code %d", code)
	}
}

// freeTestPort defers to NewService's DefaultBasePort fallback. Each
// RunScripts call closes its listeners before returning, so sequential
// (non-parallel) tests in the same package don't collide.
func freeTestPort() int {
	return 0
}

type testWriter struct {
	t *testing.T
}

func newTestWriter(t *testing.T) *testWriter {
	return &testWriter{t: t}
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
