package ports

import (
	"context"
	"time"

	"github.com/layer-3/eauth/core"
)

// UserStore persists users keyed by address
type UserStore interface {
	// FindOrCreate returns the user for address, inserting it when absent.
	// The boolean reports whether a new row was created.
	FindOrCreate(ctx context.Context, address string) (core.User, bool, error)
	FindByAddress(ctx context.Context, address string) (core.User, error)
}

// SessionStore persists cookie-bound sessions
type SessionStore interface {
	Get(ctx context.Context, id string) (*core.Session, error)
	Save(ctx context.Context, session *core.Session) error
	Destroy(ctx context.Context, id string) error

	// Reset drops every stored session
	Reset(ctx context.Context) error
}

// ChallengeStore keeps issued challenges until they are answered or expire
type ChallengeStore interface {
	Put(ctx context.Context, challenge *core.Challenge, ttl time.Duration) error

	// Take returns and removes the challenge so it can be answered only once
	Take(ctx context.Context, nonce string) (*core.Challenge, error)
}
