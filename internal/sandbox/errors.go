package sandbox

import "errors"

// ErrFileNotFound indicates a sandbox-side path that does not exist (yet).
// Monitor ticks treat it as empty output, not as a failure.
var ErrFileNotFound = errors.New("sandbox: file not found")
