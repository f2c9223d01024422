package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/eauth/core"
	"github.com/layer-3/eauth/service"
)

const claimsContextKey = "claims"

// AuthFailure is the body returned when a session token fails verification
var AuthFailure = gin.H{"success": false, "message": "Failed to authenticate token."}

// SessionGate lets requests through only when the session holds a valid token.
// A missing token redirects to the login page; an invalid or expired one
// answers with a JSON failure instead.
func SessionGate(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := CurrentSession(c)
		if sess == nil || sess.Token == "" {
			c.Redirect(http.StatusFound, loginLocation(c.Request))
			c.Abort()
			return
		}

		// Expiry is only noticed here; the stored session is left as is.
		claims, err := authService.ValidateToken(sess.Token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, AuthFailure)
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// Claims returns the token claims attached by SessionGate
func Claims(c *gin.Context) (*core.TokenClaims, bool) {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*core.TokenClaims)
	return claims, ok
}

// RedirectLoopGuard breaks redirect loops through authorizePath. A second
// consecutive GET of that path destroys the session and sends the client to
// the login page; every other GET records its path for the next request.
// The path is saved before the handler runs; a failed save fails the request.
func RedirectLoopGuard(authorizePath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		sess := CurrentSession(c)
		if sess == nil {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		if path == authorizePath && sess.PreviousPath() == authorizePath {
			if err := sess.Destroy(c.Request.Context()); err != nil {
				c.Error(fmt.Errorf("destroying looping session: %w", err))
				c.Abort()
				return
			}
			c.Redirect(http.StatusFound, loginLocation(c.Request))
			c.Abort()
			return
		}

		sess.SetPreviousPath(path)
		if sess.Dirty() {
			if err := sess.Save(c.Request.Context()); err != nil {
				c.Error(fmt.Errorf("saving session: %w", err))
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// loginLocation is "/" carrying the request URI in the url query parameter
func loginLocation(r *http.Request) string {
	uri := r.URL.RequestURI()
	if uri == "/" || uri == "" {
		return "/"
	}
	return "/?url=" + escapeComponent(uri)
}

// componentUnescaper restores the characters encodeURIComponent leaves alone
// but url.QueryEscape escapes
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeComponent escapes s the way browsers' encodeURIComponent does
func escapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// HTTPError carries the status an error should be reported with
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string {
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ErrorPages renders the error view for errors recorded on the context by
// later handlers. Detail is only shown when development is true.
func ErrorPages(development bool, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status := http.StatusInternalServerError
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Status
		}
		logger.Log(c.Request.Context(), levelForStatus(status), "request failed",
			"error", err, "method", c.Request.Method, "path", c.Request.URL.Path, "status", status)

		if c.Writer.Written() {
			return
		}

		message := http.StatusText(status)
		if status < http.StatusInternalServerError {
			message = err.Error()
		}
		data := gin.H{"status": status, "message": message}
		if development {
			data["message"] = err.Error()
			data["detail"] = fmt.Sprintf("%+v", c.Errors.Errors())
		}
		c.HTML(status, "error.html", data)
	}
}

// Recovery turns panics into errors rendered by ErrorPages
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.Error("panic", "panic", recovered, "stack", string(debug.Stack()))
		c.Error(fmt.Errorf("panic: %v", recovered))
		c.Abort()
	})
}

// RequestLogger logs one line per request at a level derived from the status
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"bytes", c.Writer.Size(),
			"remote_ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if c.Request.URL.RawQuery != "" {
			attrs = append(attrs, "query", c.Request.URL.RawQuery)
		}
		logger.Log(c.Request.Context(), levelForStatus(status), "http request", attrs...)
	}
}

func levelForStatus(code int) slog.Level {
	if code >= 500 {
		return slog.LevelError
	}
	if code >= 400 {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
