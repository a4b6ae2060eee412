package stub

import "errors"

// Exit codes mirror the reference stub server's process exit convention,
// used both as os.Exit() arguments from cmd/boltstub and as the Service's
// recorded ExitCode after a run completes.
const (
	ExitClean         = 0
	ExitMismatch      = 1
	ExitInternalError = 2
	ExitIdleTimeout   = 99
	ExitInterrupted   = 130
)

// ErrAlreadyRunning is returned by Run if the service's listeners are
// already active.
var ErrAlreadyRunning = errors.New("stub: service already running")

// ErrNoScripts is returned if a Service is constructed with no scripts to
// serve.
var ErrNoScripts = errors.New("stub: no scripts provided")
