package ingest

import "errors"

var ErrInvalidMessage = errors.New("message failed validation")
