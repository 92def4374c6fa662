package socket

import "errors"

// ErrNotConnected is returned by Join when no connection is up. The relay
// retries joins after the next connect.
var ErrNotConnected = errors.New("socket not connected")
