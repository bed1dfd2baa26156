package deadline

import "errors"

// ErrClosed is returned by Schedule and Cancel once Close or Stop was called.
var ErrClosed = errors.New("deadline scheduler closed")

var errWorkerExited = errors.New("worker exited unexpectedly")
