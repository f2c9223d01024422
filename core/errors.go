package core

import "errors"

var (
	ErrTokenExpired      = errors.New("token has expired")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidAddress    = errors.New("invalid ethereum address")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUserNotFound      = errors.New("user not found")

	// ErrSessionInvariant is returned when a session holds a token without an address or the reverse
	ErrSessionInvariant = errors.New("session token and address must be set together")
)
