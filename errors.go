package eauth

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is returned when the service answers 400, for an invalid
	// address or a signature that does not match the challenge
	ErrRejected = errors.New("rejected by eauth")

	// ErrUnauthenticated is returned when the session holds no valid token
	ErrUnauthenticated = errors.New("not authenticated")
)

// StatusError reports a response status the client does not expect
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}
