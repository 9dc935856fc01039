package nmt

import "errors"

// ErrShutdown is returned by notifications on a tracker that has been shut down.
var ErrShutdown = errors.New("nmt: tracker shut down")
