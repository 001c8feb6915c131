package channel

import "errors"

var (
	// ErrSendFailed wraps every delivery failure reported to the notice callback.
	ErrSendFailed = errors.New("patch was not delivered")

	ErrNotConnected = errors.New("websocket not connected")
	ErrRejected     = errors.New("relay rejected patch")
	ErrClosed       = errors.New("channel closed")
)
