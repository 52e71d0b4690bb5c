package repo

import "errors"

// ErrNotFound is returned by all repositories when the requested row does
// not exist. The orchestrator maps it to the appropriate domain error.
var ErrNotFound = errors.New("not found")
