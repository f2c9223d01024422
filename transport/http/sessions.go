package http

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/layer-3/eauth/core"
	"github.com/layer-3/eauth/ports"
)

const (
	// SessionCookieName is the cookie carrying the signed session id
	SessionCookieName = "eauth.sid"

	// DefaultIdleTTL bounds sessions that never authenticate
	DefaultIdleTTL = 24 * time.Hour

	sessionContextKey = "session"
	previousPathKey   = "previousPath"
)

// SessionManager binds server-side sessions to signed cookies
type SessionManager struct {
	store   ports.SessionStore
	codec   *securecookie.SecureCookie
	idleTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionManager creates a manager storing sessions in store and signing cookies with secret
func NewSessionManager(store ports.SessionStore, secret string, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	hashKey := sha256.Sum256([]byte(secret))
	// Expiry is enforced by the store, not by the cookie timestamp
	codec := securecookie.New(hashKey[:], nil).MaxAge(0)
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &SessionManager{
		store:   store,
		codec:   codec,
		idleTTL: DefaultIdleTTL,
		logger:  logger.With("component", "sessions"),
		now:     time.Now,
	}
}

// Session is the request-scoped view of a stored session
type Session struct {
	*core.Session

	manager   *SessionManager
	writer    http.ResponseWriter
	secure    bool
	isNew     bool
	dirty     bool
	destroyed bool
}

// Middleware loads the session named by the request cookie, or starts a new
// one, and persists it after the handler chain when it changed.
func (m *SessionManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.load(c)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		c.Set(sessionContextKey, sess)

		c.Next()

		if sess.destroyed || !sess.Dirty() {
			return
		}
		if err := sess.Save(c.Request.Context()); err != nil {
			c.Error(fmt.Errorf("saving session %s: %w", sess.ID, err))
		}
	}
}

func (m *SessionManager) load(c *gin.Context) (*Session, error) {
	sess := &Session{
		manager: m,
		writer:  c.Writer,
		secure:  c.Request.TLS != nil,
	}

	if cookie, err := c.Request.Cookie(SessionCookieName); err == nil {
		id, ok := m.decode(cookie.Value)
		if !ok {
			m.logger.Debug("discarding invalid session cookie", "remote_ip", c.ClientIP())
		} else {
			stored, err := m.store.Get(c.Request.Context(), id)
			switch {
			case err == nil:
				sess.Session = stored
				return sess, nil
			case !errors.Is(err, core.ErrSessionNotFound):
				return nil, fmt.Errorf("loading session: %w", err)
			}
		}
	}

	sess.Session = &core.Session{
		ID:        uuid.NewString(),
		ExpiresAt: m.now().Add(m.idleTTL),
	}
	sess.isNew = true
	sess.setCookie(0)
	return sess, nil
}

func (m *SessionManager) encode(id string) string {
	value, err := m.codec.Encode(SessionCookieName, id)
	if err != nil {
		// JSON encoding of a string cannot fail
		panic(err)
	}
	return value
}

func (m *SessionManager) decode(value string) (string, bool) {
	var id string
	if err := m.codec.Decode(SessionCookieName, value, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}

// CurrentSession returns the session loaded by the middleware
func CurrentSession(c *gin.Context) *Session {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}

// Authenticate records a successful login. The record and cookie outlive the
// token ttl by the idle window so an expired token is still seen and rejected.
func (s *Session) Authenticate(address string, userID int64, token string, ttl time.Duration) {
	lifetime := ttl + s.manager.idleTTL
	s.Address = address
	s.UserID = userID
	s.Token = token
	s.ExpiresAt = s.manager.now().Add(lifetime)
	s.dirty = true
	s.setCookie(int(lifetime / time.Second))
}

// PreviousPath returns the last GET path recorded for the redirect-loop guard
func (s *Session) PreviousPath() string {
	return s.Get(previousPathKey)
}

// SetPreviousPath records path for the redirect-loop guard
func (s *Session) SetPreviousPath(path string) {
	if s.Set(previousPathKey, path) {
		s.dirty = true
	}
}

// Dirty reports whether the session has changes not yet saved
func (s *Session) Dirty() bool {
	return s.isNew || s.dirty
}

// Save writes the session to the store immediately
func (s *Session) Save(ctx context.Context) error {
	if s.destroyed {
		return nil
	}
	if err := s.manager.store.Save(ctx, s.Session); err != nil {
		return err
	}
	s.isNew, s.dirty = false, false
	return nil
}

// Destroy removes the session from the store and expires the cookie
func (s *Session) Destroy(ctx context.Context) error {
	if err := s.manager.store.Destroy(ctx, s.ID); err != nil {
		return err
	}
	s.destroyed = true
	s.setCookie(-1)
	return nil
}

func (s *Session) setCookie(maxAge int) {
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.manager.encode(s.ID),
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		cookie.Value = ""
	}
	http.SetCookie(s.writer, cookie)
}
