package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

const (
	// Algorithm is the JWS algorithm every key of this package signs with
	Algorithm = string(jose.ES256)

	// Use is the intended use advertised for published keys
	Use = "sig"
)

// ErrInvalidJWK is returned when a stored key cannot be decoded
var ErrInvalidJWK = errors.New("invalid jwk")

// PublishedKey is a public JWK advertised until Exp (unix seconds, 0 for none)
type PublishedKey struct {
	jose.JSONWebKey
	Exp int64
}

// MarshalJSON writes the JWK members with exp alongside them
func (k PublishedKey) MarshalJSON() ([]byte, error) {
	raw, err := k.JSONWebKey.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if k.Exp == 0 {
		return raw, nil
	}

	var members map[string]any
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	members["exp"] = k.Exp
	return json.Marshal(members)
}

// UnmarshalJSON reads a JWK and its optional exp member
func (k *PublishedKey) UnmarshalJSON(data []byte) error {
	if err := k.JSONWebKey.UnmarshalJSON(data); err != nil {
		return err
	}
	var extra struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	k.Exp = extra.Exp
	return nil
}

// JWKSet is a published-keys document as served from /.well-known/jwks.json
type JWKSet struct {
	Keys []PublishedKey `json:"keys"`
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint of pub
func Thumbprint(pub *ecdsa.PublicKey) string {
	sum, err := (&jose.JSONWebKey{Key: pub}).Thumbprint(crypto.SHA256)
	if err != nil {
		// Only unsupported key types fail
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(sum)
}

// PublicJWK returns the public form of pub, ready to publish
func PublicJWK(pub *ecdsa.PublicKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       pub,
		KeyID:     Thumbprint(pub),
		Algorithm: Algorithm,
		Use:       Use,
	}
}

// PrivateJWK returns the private form of key as stored on disk
func PrivateJWK(key *ecdsa.PrivateKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:   key,
		KeyID: Thumbprint(&key.PublicKey),
	}
}

// decodePrivateJWK parses a stored private JWK and checks that its public
// coordinates belong to its private scalar
func decodePrivateJWK(data []byte) (*ecdsa.PrivateKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	key, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok || jwk.IsPublic() {
		return nil, fmt.Errorf("%w: want an EC private key, got %T", ErrInvalidJWK, jwk.Key)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: unsupported curve %s", ErrInvalidJWK, key.Curve.Params().Name)
	}

	priv, err := key.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	if !priv.PublicKey().Equal(pub) {
		return nil, fmt.Errorf("%w: public coordinates do not match private scalar", ErrInvalidJWK)
	}
	return key, nil
}
