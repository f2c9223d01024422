// Package keys owns the process signing key pair.
//
// The private key is stored as a JWK in jwk_private.json and the public key as
// a PKIX PEM in jwk_public_pem. Both are written once and reloaded on restart;
// there is no rotation.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	PrivateKeyFile = "jwk_private.json"
	PublicKeyFile  = "jwk_public_pem"
)

var (
	// ErrKeyMismatch is returned when the stored public key is not the private key's pair
	ErrKeyMismatch = errors.New("stored public key does not match private key")

	// ErrNotInitialized is returned by accessors called before Ensure
	ErrNotInitialized = errors.New("key pair not initialized")
)

// Manager loads or generates the signing key pair and holds it in memory
type Manager struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	private   *ecdsa.PrivateKey
	publicPEM []byte
}

// NewManager creates a manager persisting its key files under dir
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:    dir,
		logger: logger.With("component", "keys"),
	}
}

// Ensure returns the key pair, loading it from disk or generating and persisting
// a new one on first use. Later calls return the pair held in memory.
func (m *Manager) Ensure() (*ecdsa.PrivateKey, *ecdsa.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.private != nil {
		return m.private, &m.private.PublicKey, nil
	}

	privPath := filepath.Join(m.dir, PrivateKeyFile)
	pubPath := filepath.Join(m.dir, PublicKeyFile)

	if fileExists(privPath) && fileExists(pubPath) {
		key, pemBytes, err := load(privPath, pubPath)
		if err != nil {
			return nil, nil, err
		}
		m.private, m.publicPEM = key, pemBytes
		m.logger.Info("loaded signing key", "kid", Thumbprint(&key.PublicKey), "dir", m.dir)
		return key, &key.PublicKey, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	pemBytes, err := encodePublicPEM(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating key directory: %w", err)
	}
	privJSON, err := PrivateJWK(key).MarshalJSON()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	if err := os.WriteFile(privPath, privJSON, 0o600); err != nil {
		return nil, nil, fmt.Errorf("writing %s: %w", PrivateKeyFile, err)
	}
	if err := os.WriteFile(pubPath, pemBytes, 0o644); err != nil {
		return nil, nil, fmt.Errorf("writing %s: %w", PublicKeyFile, err)
	}

	m.private, m.publicPEM = key, pemBytes
	m.logger.Info("generated signing key", "kid", Thumbprint(&key.PublicKey), "dir", m.dir)
	return key, &key.PublicKey, nil
}

// PrivateKey returns the held private key
func (m *Manager) PrivateKey() (*ecdsa.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.private == nil {
		return nil, ErrNotInitialized
	}
	return m.private, nil
}

// PublicKey returns the held public key
func (m *Manager) PublicKey() (*ecdsa.PublicKey, error) {
	key, err := m.PrivateKey()
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

// PublicPEM returns the exported public key as written to disk
func (m *Manager) PublicPEM() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.publicPEM == nil {
		return nil, ErrNotInitialized
	}
	return m.publicPEM, nil
}

// JWKS returns the published-keys document advertising the public key until exp
func (m *Manager) JWKS(exp time.Time) (JWKSet, error) {
	pub, err := m.PublicKey()
	if err != nil {
		return JWKSet{}, err
	}
	key := PublishedKey{JSONWebKey: PublicJWK(pub)}
	if !exp.IsZero() {
		key.Exp = exp.Unix()
	}
	return JWKSet{Keys: []PublishedKey{key}}, nil
}

func load(privPath, pubPath string) (*ecdsa.PrivateKey, []byte, error) {
	privJSON, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", PrivateKeyFile, err)
	}
	key, err := decodePrivateJWK(privJSON)
	if err != nil {
		return nil, nil, err
	}

	pemBytes, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", PublicKeyFile, err)
	}
	pub, err := decodePublicPEM(pemBytes)
	if err != nil {
		return nil, nil, err
	}
	if !pub.Equal(&key.PublicKey) {
		return nil, nil, ErrKeyMismatch
	}

	return key, pemBytes, nil
}

func encodePublicPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func decodePublicPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%s: no PUBLIC KEY block", PublicKeyFile)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", PublicKeyFile, err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an ECDSA key", PublicKeyFile)
	}
	return pub, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
