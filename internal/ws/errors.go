package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidJSON      = errors.New("payload cannot be encoded as JSON")
	ErrWriteTimeout     = errors.New("write timed out")
)
