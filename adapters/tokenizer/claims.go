package tokenizer

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/eauth/core"
)

// Claims carries the whole user record as the subject.
// The User field shadows RegisteredClaims.Subject on the "sub" key.
type Claims struct {
	jwt.RegisteredClaims
	User core.User `json:"sub"`
}
