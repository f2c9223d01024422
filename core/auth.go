package core

import "time"

// User is the persisted identity behind an Ethereum address
type User struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Challenge represents a pending typed-data challenge
type Challenge struct {
	Nonce     string    // Unique identifier the client echoes back with its signature
	Address   string    // Address the challenge was issued for
	TypedData []byte    // JSON encoded EIP-712 payload the wallet signs
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge expires
}

// Expired reports whether the challenge can no longer be answered
func (c *Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Session is the server-side state bound to a session cookie
type Session struct {
	ID        string            // Unique session identifier
	Address   string            // Authenticated Ethereum address, empty until login
	UserID    int64             // Database id of the authenticated user
	Token     string            // Signed JWT issued at login
	Values    map[string]string // Flow-scoped fields such as the last GET path
	ExpiresAt time.Time         // When the record stops being valid
}

// Get returns the flow value stored under key, or ""
func (s *Session) Get(key string) string {
	return s.Values[key]
}

// Set stores a flow value and reports whether it changed
func (s *Session) Set(key, value string) bool {
	if old, ok := s.Values[key]; ok && old == value {
		return false
	}
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[key] = value
	return true
}

// Authenticated reports whether the session carries a login
func (s *Session) Authenticated() bool {
	return s.Token != "" && s.Address != ""
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Validate checks that token and address are either both set or both empty
func (s *Session) Validate() error {
	if (s.Token == "") != (s.Address == "") {
		return ErrSessionInvariant
	}
	return nil
}

// TokenClaims is the decoded content of a verified session token
type TokenClaims struct {
	Subject   User      // User record the token was issued for
	Issuer    string    // Issuer the token claims
	IssuedAt  time.Time // When the token was signed
	ExpiresAt time.Time // When the token stops being accepted
}
