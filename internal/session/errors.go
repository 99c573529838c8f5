package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("whatsapp is not connected")
	ErrAlreadyConnected   = errors.New("whatsapp is already connected")
	ErrInvalidCredentials = errors.New("stored credentials are unusable")
)

// SendFailedError wraps the transport error of a failed send.
type SendFailedError struct {
	To  string
	Err error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.To, e.Err)
}

func (e *SendFailedError) Unwrap() error {
	return e.Err
}
