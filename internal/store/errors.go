package store

import "errors"

var (
	ErrClosed           = errors.New("store is closed")
	ErrWriteTimeout     = errors.New("write operation timed out")
	ErrMissingMessageID = errors.New("intervention record requires a persisted message id")
)
