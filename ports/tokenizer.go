package ports

import (
	"time"

	"github.com/layer-3/eauth/core"
)

// Tokenizer issues and verifies signed session tokens
type Tokenizer interface {
	Issue(user core.User, ttl time.Duration) (string, error)
	Verify(token string) (*core.TokenClaims, error)
}
