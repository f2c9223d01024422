package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/eauth/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

var testUser = core.User{
	ID:        7,
	Address:   "0x00000000000000000000000000000000000000aA",
	CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	tk := NewJWTTokenizer(newKey(t), "https://eauth.test")

	token, err := tk.Issue(testUser, time.Hour)
	require.NoError(t, err)

	claims, err := tk.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testUser.ID, claims.Subject.ID)
	assert.Equal(t, testUser.Address, claims.Subject.Address)
	assert.True(t, testUser.CreatedAt.Equal(claims.Subject.CreatedAt))
	assert.Equal(t, "https://eauth.test", claims.Issuer)
	assert.WithinDuration(t, claims.IssuedAt.Add(time.Hour), claims.ExpiresAt, time.Second)
}

func TestIssue_SubjectIsUserObject(t *testing.T) {
	tk := NewJWTTokenizer(newKey(t), "")

	token, err := tk.Issue(testUser, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	sub, ok := raw["sub"].(map[string]any)
	require.True(t, ok, "sub should be an object, got %T", raw["sub"])
	assert.Equal(t, testUser.Address, sub["address"])
	assert.Equal(t, DefaultIssuer, raw["iss"])

	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.Contains(t, string(header), `"alg":"ES256"`)
}

func TestVerify_ExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	tk := NewJWTTokenizer(newKey(t), "", WithClock(clock.Now))

	token, err := tk.Issue(testUser, 30*time.Second)
	require.NoError(t, err)

	_, err = tk.Verify(token)
	require.NoError(t, err)

	clock.t = clock.t.Add(31 * time.Second)
	_, err = tk.Verify(token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestVerify_RejectsForeignKey(t *testing.T) {
	issuer := NewJWTTokenizer(newKey(t), "")
	verifier := NewJWTTokenizer(newKey(t), "")

	token, err := issuer.Issue(testUser, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	key := newKey(t)
	tk := NewJWTTokenizer(key, "")

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		User: testUser,
	}

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tk.Verify(hs)
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tk.Verify(none)
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	es384, err := jwt.NewWithClaims(jwt.SigningMethodES384, claims).SignedString(mustP384(t))
	require.NoError(t, err)
	_, err = tk.Verify(es384)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestVerify_RejectsWrongIssuer(t *testing.T) {
	key := newKey(t)
	token, err := NewJWTTokenizer(key, "https://other.test").Issue(testUser, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTTokenizer(key, "https://eauth.test").Verify(token)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	tk := NewJWTTokenizer(newKey(t), "")
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := tk.Verify(token)
		assert.ErrorIs(t, err, core.ErrInvalidToken, token)
	}
}

func mustP384(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	return key
}
