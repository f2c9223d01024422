package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	priv, pub, err := m.Ensure()
	require.NoError(t, err)
	assert.Equal(t, elliptic.P256(), priv.Curve)
	assert.True(t, pub.Equal(&priv.PublicKey))

	privJSON, err := os.ReadFile(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	var jwk map[string]any
	require.NoError(t, json.Unmarshal(privJSON, &jwk))
	assert.Equal(t, "EC", jwk["kty"])
	assert.Equal(t, "P-256", jwk["crv"])
	assert.NotEmpty(t, jwk["d"])
	assert.Equal(t, Thumbprint(pub), jwk["kid"])

	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	pemBytes, err := os.ReadFile(filepath.Join(dir, PublicKeyFile))
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "BEGIN PUBLIC KEY")
}

func TestEnsure_ReloadsSamePair(t *testing.T) {
	dir := t.TempDir()

	first, _, err := NewManager(dir, nil).Ensure()
	require.NoError(t, err)

	second, _, err := NewManager(dir, nil).Ensure()
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
}

func TestEnsure_IsIdempotentInProcess(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	a, _, err := m.Ensure()
	require.NoError(t, err)
	b, _, err := m.Ensure()
	require.NoError(t, err)

	assert.Same(t, a, b)
}

func TestEnsure_RegeneratesWhenOneFileMissing(t *testing.T) {
	dir := t.TempDir()

	first, _, err := NewManager(dir, nil).Ensure()
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, PublicKeyFile)))

	second, _, err := NewManager(dir, nil).Ensure()
	require.NoError(t, err)

	assert.False(t, first.Equal(second))
	assert.FileExists(t, filepath.Join(dir, PublicKeyFile))
}

func TestEnsure_RejectsMismatchedPair(t *testing.T) {
	dir := t.TempDir()
	_, _, err := NewManager(dir, nil).Ensure()
	require.NoError(t, err)

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pemBytes, err := encodePublicPEM(&other.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, PublicKeyFile), pemBytes, 0o644))

	_, _, err = NewManager(dir, nil).Ensure()
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestEnsure_FailsOnUnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, _, err := NewManager(filepath.Join(blocker, "keys"), nil).Ensure()
	assert.Error(t, err)
}

func TestAccessors_BeforeEnsure(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	_, err := m.PrivateKey()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = m.PublicPEM()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = m.JWKS(time.Time{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestJWKS_PublishesPublicKeyOnly(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	priv, _, err := m.Ensure()
	require.NoError(t, err)

	exp := time.Unix(1_900_000_000, 0)
	set, err := m.JWKS(exp)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	key := set.Keys[0]
	assert.True(t, key.IsPublic())
	assert.Equal(t, "ES256", key.Algorithm)
	assert.Equal(t, "sig", key.Use)
	assert.Equal(t, exp.Unix(), key.Exp)
	assert.Equal(t, Thumbprint(&priv.PublicKey), key.KeyID)

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"d"`)

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, float64(exp.Unix()), doc.Keys[0]["exp"])
	assert.Equal(t, "EC", doc.Keys[0]["kty"])

	var decoded JWKSet
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Keys, 1)
	assert.Equal(t, exp.Unix(), decoded.Keys[0].Exp)
	assert.True(t, priv.PublicKey.Equal(decoded.Keys[0].Key))
}

func TestThumbprint_CanonicalMembers(t *testing.T) {
	// P-256 key from RFC 7517 appendix A.1
	const x, y = "MKBCTNIcKUSDii11ySs3526iDZ8AiTo7Tu6KPAqv7D4", "4Etl6SRW2YiLUrN5vfvVHuhp7x8PxltmWWlbbM4IFyM"
	xb, err := base64.RawURLEncoding.DecodeString(x)
	require.NoError(t, err)
	yb, err := base64.RawURLEncoding.DecodeString(y)
	require.NoError(t, err)
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(xb), Y: new(big.Int).SetBytes(yb)}

	sum := sha256.Sum256([]byte(`{"crv":"P-256","kty":"EC","x":"` + x + `","y":"` + y + `"}`))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), Thumbprint(pub))
}

func TestJWK_PrivateKeyRejectsTampering(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	raw, err := PrivateJWK(priv).MarshalJSON()
	require.NoError(t, err)
	decoded, err := decodePrivateJWK(raw)
	require.NoError(t, err)
	assert.True(t, priv.Equal(decoded))

	// Valid point, wrong scalar
	swapped := &ecdsa.PrivateKey{PublicKey: other.PublicKey, D: priv.D}
	raw, err = PrivateJWK(swapped).MarshalJSON()
	require.NoError(t, err)
	_, err = decodePrivateJWK(raw)
	assert.ErrorIs(t, err, ErrInvalidJWK)

	public, err := PublicJWK(&priv.PublicKey).MarshalJSON()
	require.NoError(t, err)
	_, err = decodePrivateJWK(public)
	assert.ErrorIs(t, err, ErrInvalidJWK)

	_, err = decodePrivateJWK([]byte(`{"kty":"oct","k":"c2VjcmV0"}`))
	assert.ErrorIs(t, err, ErrInvalidJWK)

	_, err = decodePrivateJWK([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidJWK)
}
