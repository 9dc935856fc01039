package stackstore

import "errors"

// ErrUnknownIndex indicates a handle that this Store never issued.
var ErrUnknownIndex = errors.New("stackstore: unknown stack index")
