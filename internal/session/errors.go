package session

import "errors"

var (
	ErrNilConn       = errors.New("nil connection")
	ErrAlreadyInRoom = errors.New("connection already joined to a room")
)
