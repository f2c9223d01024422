package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/layer-3/eauth/core"
	"github.com/layer-3/eauth/internal/keys"
	"github.com/layer-3/eauth/ports"
	"github.com/layer-3/eauth/service"
)

const ensLookupTimeout = 3 * time.Second

// UIOptions selects what the HTML pages show
type UIOptions struct {
	Prefix    string // statement shown on the login page
	UseSocket bool   // advertise the QR-code companion
	Contract  bool   // root renders the index page instead of login
}

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	keys        *keys.Manager
	resolver    ports.NameResolver
	ui          UIOptions
	logger      *slog.Logger
}

// NewAuthHandlers creates new auth handlers. resolver may be nil.
func NewAuthHandlers(authService *service.AuthService, keyManager *keys.Manager, resolver ports.NameResolver, ui UIOptions, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		keys:        keyManager,
		resolver:    resolver,
		ui:          ui,
		logger:      logger,
	}
}

// Index renders the logout page for signed-in sessions, else login or index
func (h *AuthHandlers) Index(c *gin.Context) {
	sess := CurrentSession(c)
	if sess.Address != "" {
		c.HTML(http.StatusOK, "logout.html", gin.H{
			"address": sess.Address,
			"ens":     h.reverse(c.Request.Context(), sess.Address),
		})
		return
	}

	if !h.ui.Contract {
		c.HTML(http.StatusOK, "login.html", gin.H{
			"isRoot":    true,
			"prefix":    h.ui.Prefix,
			"useSocket": h.ui.UseSocket,
		})
		return
	}
	c.HTML(http.StatusOK, "index.html", gin.H{"isRoot": true})
}

// LoginPage redirects signed-in sessions home and renders the login page otherwise
func (h *AuthHandlers) LoginPage(c *gin.Context) {
	if CurrentSession(c).Address != "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusOK, "login.html", gin.H{
		"prefix":    h.ui.Prefix,
		"useSocket": h.ui.UseSocket,
	})
}

// JWKS publishes the public signing key
func (h *AuthHandlers) JWKS(c *gin.Context) {
	set, err := h.keys.JWKS(time.Now().Add(h.authService.SessionTTL()))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// Challenge returns the typed data to sign for the address in the path
func (h *AuthHandlers) Challenge(c *gin.Context) {
	td, err := h.authService.CreateChallenge(c.Request.Context(), c.Param("Address"))
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, td)
}

// Verify checks the signed challenge and signs the session in
func (h *AuthHandlers) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.authService.Login(ctx, c.Param("Message"), c.Param("Signature"))
	if err != nil {
		if errors.Is(err, core.ErrInvalidSignature) {
			h.logger.Debug("signature rejected", "error", err)
			c.Status(http.StatusBadRequest)
			return
		}
		c.Error(err)
		return
	}

	sess := CurrentSession(c)
	sess.Authenticate(result.Address, result.User.ID, result.Token, h.authService.SessionTTL())
	if err := sess.Save(ctx); err != nil {
		c.Error(err)
		return
	}
	h.authService.NotifyLogin(ctx, result, sess.ID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Eauth Success",
		"token":   result.Token,
	})
}

// User returns the address of the signed-in session
func (h *AuthHandlers) User(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": CurrentSession(c).Address,
	})
}

// Logout destroys the session and redirects to the url in the body, or home
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		URL string `form:"url" json:"url"`
	}
	switch c.ContentType() {
	case binding.MIMEJSON:
		_ = c.ShouldBindJSON(&req)
	case binding.MIMEPOSTForm:
		_ = c.ShouldBindWith(&req, binding.FormPost)
	}

	sess := CurrentSession(c)
	address, id := sess.Address, sess.ID
	if err := sess.Destroy(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	h.authService.NotifyLogout(c.Request.Context(), address, id)

	location := "/"
	if req.URL != "" {
		location = req.URL
	}
	c.Redirect(http.StatusFound, location)
}

// Health reports liveness
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandlers) reverse(ctx context.Context, address string) string {
	if h.resolver == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, ensLookupTimeout)
	defer cancel()

	name, err := h.resolver.Reverse(ctx, address)
	if err != nil {
		h.logger.Debug("ens reverse lookup failed", "error", err, "address", address)
		return ""
	}
	return name
}
