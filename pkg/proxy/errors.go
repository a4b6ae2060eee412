package proxy

import "errors"

// ErrExchangeClosed signals that a forwarded exchange's connection closed
// mid-chunk, ending that client/server pair's relay loop.
var ErrExchangeClosed = errors.New("proxy: exchange closed")
