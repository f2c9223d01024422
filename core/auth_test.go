package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_Values(t *testing.T) {
	var s Session
	assert.Equal(t, "", s.Get("previousPath"))

	assert.True(t, s.Set("previousPath", "/login"))
	assert.False(t, s.Set("previousPath", "/login"))
	assert.True(t, s.Set("previousPath", "/"))
	assert.Equal(t, "/", s.Get("previousPath"))

	assert.True(t, s.Set("flow", ""), "an empty value is still a change from unset")
	assert.False(t, s.Set("flow", ""))
}

func TestSession_Validate(t *testing.T) {
	assert.NoError(t, (&Session{}).Validate())
	assert.NoError(t, (&Session{Address: "0x1", Token: "t"}).Validate())
	assert.ErrorIs(t, (&Session{Token: "t"}).Validate(), ErrSessionInvariant)
	assert.ErrorIs(t, (&Session{Address: "0x1"}).Validate(), ErrSessionInvariant)
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	assert.False(t, (&Session{}).Expired(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Second)}).Expired(now))
	assert.True(t, (&Session{ExpiresAt: now}).Expired(now))
}
