package types

import "errors"

var (
	ErrInvalidRoomID    = errors.New("room id must be non-empty")
	ErrInvalidSenderID  = errors.New("sender id must be non-empty")
	ErrEmptyMessage     = errors.New("message text must be non-empty")
	ErrInvalidRole      = errors.New("role must be user or assistant")
	ErrMessageTooLarge  = errors.New("message text exceeds size limit")
	ErrInvalidKind      = errors.New("unknown intervention kind")
	ErrIndividualTarget = errors.New("individual intervention requires a target student")
)
